package command

import (
	"fmt"
	"regexp"
	"strings"

	"shellherd/internal/domain"
)

// destructivePatterns match command lines that would damage the host no
// matter where they run.
var destructivePatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`:\(\)\s*\{.*\|.*&\s*\}\s*;`), "fork bomb"},
	{regexp.MustCompile(`\bmkfs\b`), "filesystem format"},
	{regexp.MustCompile(`\bdd\b.*\bof=/dev/`), "raw write to block device"},
	{regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|vd|xvd|disk|mapper/)`), "raw write to block device"},
	{regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`), "host power control"},
	{regexp.MustCompile(`\binit\s+[06]\b`), "host power control"},
}

// protectedPaths are directories a recursive rm/chmod/chown must never
// target directly.
var protectedPaths = map[string]bool{
	"/":      true,
	"/bin":   true,
	"/boot":  true,
	"/dev":   true,
	"/etc":   true,
	"/home":  true,
	"/lib":   true,
	"/lib32": true,
	"/lib64": true,
	"/media": true,
	"/mnt":   true,
	"/opt":   true,
	"/proc":  true,
	"/root":  true,
	"/run":   true,
	"/sbin":  true,
	"/srv":   true,
	"/sys":   true,
	"/tmp":   true,
	"/usr":   true,
	"/var":   true,
	"~":      true,
	"$HOME":  true,
}

var (
	subcommandSplit = regexp.MustCompile(`;|&&|\|\|`)
	recursiveFlag   = regexp.MustCompile(`^-[a-zA-Z]*[rR]`)
)

// Guard screens command lines for obviously destructive patterns before
// they reach a shell. It is a tripwire, not a sandbox: anything it does
// not recognize runs with the full privileges of the server process.
type Guard struct {
	enabled bool
}

// NewGuard creates a Guard. A disabled guard accepts everything.
func NewGuard(enabled bool) *Guard {
	return &Guard{enabled: enabled}
}

// Check returns an error wrapping domain.ErrCommandBlocked when the
// command matches a destructive pattern. A nil or disabled Guard accepts
// every command.
func (g *Guard) Check(command string) error {
	if g == nil || !g.enabled {
		return nil
	}

	for _, p := range destructivePatterns {
		if p.re.MatchString(command) {
			return domain.NewDomainError("Guard.Check", domain.ErrCommandBlocked, p.reason)
		}
	}

	// Chained commands are screened one subcommand at a time so that
	// "cd /tmp && rm -rf /" cannot hide behind the prefix.
	for _, sub := range subcommandSplit.Split(command, -1) {
		if target := recursiveTargetsProtected(sub); target != "" {
			return domain.NewDomainError("Guard.Check", domain.ErrCommandBlocked,
				fmt.Sprintf("recursive operation on protected path %q", target))
		}
	}
	return nil
}

// recursiveTargetsProtected reports the first protected path targeted by
// a recursive rm, chmod or chown in the subcommand, or "" when none.
func recursiveTargetsProtected(sub string) string {
	fields := strings.Fields(sub)

	tool := -1
	for i, f := range fields {
		base := f
		if j := strings.LastIndexByte(f, '/'); j >= 0 {
			base = f[j+1:]
		}
		if base == "rm" || base == "chmod" || base == "chown" {
			tool = i
			break
		}
	}
	if tool < 0 {
		return ""
	}

	recursive := false
	for _, f := range fields[tool+1:] {
		if recursiveFlag.MatchString(f) || f == "--recursive" {
			recursive = true
			break
		}
	}
	if !recursive {
		return ""
	}

	for _, f := range fields[tool+1:] {
		if strings.HasPrefix(f, "-") {
			continue
		}
		target := strings.TrimSuffix(f, "/*")
		if target != "/" {
			target = strings.TrimSuffix(target, "/")
		}
		if target == "" {
			target = "/"
		}
		if protectedPaths[target] {
			return target
		}
	}
	return ""
}
