package platform

import "strings"

// These helpers only build strings, so they stay untagged and testable on
// every OS even though the commands they feed run on windows.

func buildWindowsCommandLine(executable string, args []string) string {
	fields := make([]string, 0, 1+len(args))
	fields = append(fields, quoteWindowsCommandLineArg(executable))
	for _, arg := range args {
		fields = append(fields, quoteWindowsCommandLineArg(arg))
	}
	return strings.Join(fields, " ")
}

func quoteWindowsCommandLineArg(arg string) string {
	if arg == "" {
		return `""`
	}
	if !strings.ContainsAny(arg, " \t\n\v\"") {
		return arg
	}

	var b strings.Builder
	b.WriteByte('"')
	backslashes := 0
	for i := 0; i < len(arg); i++ {
		switch arg[i] {
		case '\\':
			backslashes++
		case '"':
			for j := 0; j < backslashes*2+1; j++ {
				b.WriteByte('\\')
			}
			b.WriteByte('"')
			backslashes = 0
		default:
			for j := 0; j < backslashes; j++ {
				b.WriteByte('\\')
			}
			backslashes = 0
			b.WriteByte(arg[i])
		}
	}
	for j := 0; j < backslashes*2; j++ {
		b.WriteByte('\\')
	}
	b.WriteByte('"')
	return b.String()
}

// quotePowerShellLiteral wraps s in a single-quoted PowerShell string.
func quotePowerShellLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// powerShellArgumentList renders args for Start-Process -ArgumentList.
func powerShellArgumentList(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		quoted = append(quoted, quotePowerShellLiteral(quoteWindowsCommandLineArg(arg)))
	}
	return strings.Join(quoted, ",")
}
