package connectors

const (
	TopicConnStatus   = "conn.status"
	TopicRigState     = "rig.state"
	TopicSmeterStatus = "rig.smeter"
	TopicCapabilities = "rig.capabilities"
	TopicProcessEvent = "daemon.process"
	TopicDiagnostics  = "daemon.diagnostics"
	TopicRawTraffic   = "raw.traffic"
)
