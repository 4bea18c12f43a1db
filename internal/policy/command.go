package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// denyPatterns block destructive or host-level commands regardless of risk
// level. Matching is case-insensitive on a whitespace-normalized command.
var denyPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"rm -rf .",
	"mkfs",
	"dd if=",
	":(){:|:&};:", // fork bomb
	"shutdown",
	"reboot",
	"halt",
	"init 0",
	"init 6",
	"chmod -r 777 /",
	"chown -r",
	"> /dev/sda",
	"format c:",
	"del /s /q c:\\",
	"rd /s /q c:\\",
}

// denyRegexps catch variants that plain substrings miss.
var denyRegexps = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\s+/\S*`),
	regexp.MustCompile(`(?i)\bgit\s+push\s+.*--force`),
	regexp.MustCompile(`(?i)curl\s+[^|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)wget\s+[^|]*\|\s*(ba)?sh`),
}

// CommandScreen vets shell commands. The deny list always applies; the
// allow list, when non-empty, additionally restricts commands to those whose
// first token matches an allowed program.
type CommandScreen struct {
	Allow []string
}

// Check returns a non-nil error for a command the screen refuses.
func (s *CommandScreen) Check(command string) error {
	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))

	for _, p := range denyPatterns {
		if strings.Contains(normalized, p) {
			return fmt.Errorf("command contains blocked pattern %q", p)
		}
	}
	for _, re := range denyRegexps {
		if re.MatchString(command) {
			return fmt.Errorf("command matches blocked pattern %q", re.String())
		}
	}

	if len(s.Allow) > 0 {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return fmt.Errorf("empty command")
		}
		prog := fields[0]
		for _, a := range s.Allow {
			if prog == a {
				return nil
			}
		}
		return fmt.Errorf("program %q is not on the allow list", prog)
	}
	return nil
}
