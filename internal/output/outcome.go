package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tanq16/stager/internal/transfer"
	"github.com/tanq16/stager/internal/utils"
)

func symbolFor(kind transfer.Kind) string {
	switch {
	case kind == transfer.Success:
		return FSuccess(StyleSymbols["pass"])
	case kind == transfer.FilterSkip:
		return FDebug(StyleSymbols["skip"])
	default:
		return FError(StyleSymbols["fail"])
	}
}

// RenderOutcome formats one outcome, with a line per archive entry.
func RenderOutcome(o *transfer.Outcome) string {
	var sb strings.Builder
	elapsed := o.Finished.Sub(o.Started)
	line := fmt.Sprintf("%s %s %s %s", symbolFor(o.Kind), o.Source, StyleSymbols["arrow"], o.Destination)
	switch {
	case o.Kind == transfer.FilterSkip:
		line += FDebug(" (skipped, not an archive under the watched prefix)")
	case o.Kind.Failed():
		line += FError(fmt.Sprintf(" [%s]", o.Kind))
		if o.Err != nil {
			line += " " + FError(o.Err.Error())
		}
	default:
		line += FDetail(fmt.Sprintf(" %s in %s (%s)",
			utils.FormatBytes(uint64(o.Bytes)), elapsed.Round(time.Millisecond), utils.FormatSpeed(o.Bytes, elapsed.Seconds())))
	}
	sb.WriteString(line)
	sb.WriteString("\n")
	for _, e := range o.Entries {
		entry := fmt.Sprintf("  %s %s %s", symbolFor(e.Kind), e.Name, FDebug(utils.FormatBytes(uint64(e.Bytes))))
		if e.Kind.Failed() && e.Err != nil {
			entry += " " + FError(fmt.Sprintf("[%s] %v", e.Kind, e.Err))
		}
		sb.WriteString(entry)
		sb.WriteString("\n")
	}
	return sb.String()
}

func PrintOutcome(o *transfer.Outcome) {
	fmt.Fprint(os.Stdout, RenderOutcome(o))
}

// Summary tallies outcomes of a batch by kind.
type Summary struct {
	Total   int
	Bytes   int64
	ByKind  map[transfer.Kind]int
	Failed  []*transfer.Outcome
	Skipped int
}

func Summarize(outcomes []*transfer.Outcome) Summary {
	s := Summary{ByKind: make(map[transfer.Kind]int)}
	for _, o := range outcomes {
		s.Total++
		s.Bytes += o.Bytes
		s.ByKind[o.Kind]++
		if o.Kind == transfer.FilterSkip {
			s.Skipped++
		}
		if o.Kind.Failed() {
			s.Failed = append(s.Failed, o)
		}
	}
	return s
}

func (s Summary) Write(w io.Writer) {
	fmt.Fprintln(w, FInfo(fmt.Sprintf("%d transfers, %s stored", s.Total, utils.FormatBytes(uint64(s.Bytes)))))
	for _, kind := range []transfer.Kind{transfer.Success, transfer.FilterSkip, transfer.NonSuccessStatus,
		transfer.TransportError, transfer.WriteError, transfer.DecodeError} {
		if n := s.ByKind[kind]; n > 0 {
			fmt.Fprintf(w, "  %s %s: %d\n", symbolFor(kind), kind, n)
		}
	}
	for _, o := range s.Failed {
		fmt.Fprintf(w, "  %s %s\n", FWarning(StyleSymbols["warning"]), o.Source)
	}
}
