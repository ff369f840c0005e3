package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// CommitPolicy decides whether a prepared flush batch may be committed.
// The diff/flush logic is identical whether the decision comes from a
// human prompt or an automatic policy.
type CommitPolicy interface {
	ShouldCommit(summary FlushSummary) bool
}

// AutoCommit approves every batch. The live adapter always runs with it.
type AutoCommit struct{}

func (AutoCommit) ShouldCommit(FlushSummary) bool { return true }

// PromptPolicy asks on the given reader/writer pair before committing.
// Used by the batch importer when --auto is absent.
type PromptPolicy struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptPolicy) ShouldCommit(summary FlushSummary) bool {
	fmt.Fprintf(p.Out,
		"About to replace rows for %d stations (+%d ~%d -%d). Continue? [y/N] ",
		summary.Stations, summary.Added, summary.Updated, summary.Deleted)

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
