// Package cleanup provides ascii reporter
package cleanup

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
)

const (
	cyan       = "\033[38;2;86;182;194m"  // One Dark Cyan: #56B6C2
	cyanBright = "\033[38;2;97;228;240m"  // Brighter Cyan: #61E4F0
	dimCyan    = "\033[38;2;47;91;102m"   // Dim Cyan: #2F5B66
	grey       = "\033[38;2;110;118;129m" // Brighter Grey: #6E7681
	dimGrey    = "\033[38;2;75;82;99m"    // Darker Grey: #4B5263
	success    = "\033[38;2;62;130;144m"  // Dim Cyan: #3E8290
	warning    = "\033[38;2;229;192;123m" // One Dark Yellow: #E5C07B
	white      = "\033[38;2;171;178;191m" // One Dark Foreground: #ABB2BF
	purple     = "\033[38;2;198;120;221m" // One Dark Purple: #C678DD
	dimPurple  = "\033[38;2;142;87;158m"  // Dim Purple: #8E579E
	reset      = "\033[0m"
	bold       = "\033[1m"
)

type Reporter struct {
	out io.Writer
}

// NewReporter writes to out, or stdout when out is nil.
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{out: out}
}

func (r *Reporter) LogStage(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s%s✦ %s%s%s\n", success, bold, grey, formattedMsg, reset)
}

func (r *Reporter) LogInfo(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s▶ %s%s%s\n", dimGrey, grey, formattedMsg, reset)
}

func (r *Reporter) WriteStoreReport(storeName string, stats []stores.CollectionStats, now time.Time) {
	fmt.Fprint(r.out, GenerateStoreReport(storeName, stats, now))
}

// GenerateStoreReport renders one line per collection: cached items, origin
// snapshots, queued actions and the age of the last full load.
func GenerateStoreReport(storeName string, stats []stores.CollectionStats, now time.Time) string {
	var report strings.Builder
	timestamp := now.Format("2006-01-02 15:04:05 MST")

	report.WriteString(fmt.Sprintf("%s%s▓ %s | Store: %s%s %s\n", bold, dimCyan, timestamp, white, storeName, reset))

	for _, s := range stats {
		var line strings.Builder
		if s.Loaded {
			line.WriteString(fmt.Sprintf("%s✦ %s%s:%s", cyanBright, cyan, s.Model, reset))
		} else {
			line.WriteString(fmt.Sprintf("%s○ %s%s:%s", dimGrey, grey, s.Model, reset))
		}
		line.WriteString(countItem("items", s.Items, dimCyan, cyan))
		line.WriteString(countItem("origins", s.Origins, dimCyan, cyan))
		line.WriteString(countItem("queued", s.Queued, dimPurple, purple))
		if s.Loaded {
			line.WriteString(fmt.Sprintf(" %sage:%s%s", dimCyan, white, now.Sub(s.LastLoad).Truncate(time.Second)))
		}
		if s.HasAction {
			line.WriteString(fmt.Sprintf(" %s⚠ pending%s", warning, reset))
		}
		report.WriteString(line.String() + reset + "\n")
	}
	return report.String()
}

func countItem(label string, count int, labelColor, valueColor string) string {
	if count > 0 {
		return fmt.Sprintf(" %s%s:%s%d", labelColor, label, valueColor, count)
	}
	return fmt.Sprintf(" %s%s:%s--", dimGrey, label, dimGrey)
}
