package banner

import (
	"fmt"
	"io"
	"strings"
)

// Info is what the startup banner reports about the running process.
type Info struct {
	Version   string
	Transport string // MCP transport
	Gateway   string // listen address, empty when disabled
	Tools     int
}

const bannerArt = `
 _ __ ___   ___  __| (_) __ _  __ _  __ _| |_ ___
| '_ ` + "`" + ` _ \ / _ \/ _` + "`" + ` | |/ _` + "`" + ` |/ _` + "`" + ` |/ _` + "`" + ` | __/ _ \
| | | | | |  __/ (_| | | (_| | (_| | (_| | ||  __/
|_| |_| |_|\___|\__,_|_|\__,_|\__, |\__,_|\__\___|
                              |___/
`

// Startup writes the banner and one summary line to w. The stdio transport
// owns stdout, so callers pass stderr.
func Startup(w io.Writer, info Info) {
	for _, line := range splitLines(bannerArt) {
		fmt.Fprintln(w, line)
	}
	gateway := info.Gateway
	if gateway == "" {
		gateway = "off"
	}
	fmt.Fprintf(w, "  media tool server  v%s  mcp=%s gateway=%s tools=%d\n\n",
		info.Version, info.Transport, gateway, info.Tools)
}

func splitLines(s string) []string {
	s = strings.Trim(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
