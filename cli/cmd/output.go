package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	pushreceiver "github.com/slush-dev/push-receiver"
	"github.com/slush-dev/push-receiver/internal/strutil"
)

// yamlOut prints data as a YAML document to stdout.
func yamlOut(data any) {
	yamlTo(os.Stdout, data)
}

func yamlTo(w io.Writer, data any) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	enc.Encode(data)
	enc.Close()
}

// printEvent writes one controller event, as a YAML document or a line.
func printEvent(w io.Writer, ev pushreceiver.Event, asYAML bool) {
	if asYAML {
		row := map[string]any{"event": ev.Name()}
		switch e := ev.(type) {
		case pushreceiver.ServiceStarted:
			row["token"] = e.Token
		case pushreceiver.TokenUpdated:
			row["token"] = e.Token
		case pushreceiver.ServiceError:
			row["error"] = e.Message
		case pushreceiver.NotificationReceived:
			row["persistent_id"] = e.Notification.PersistentID
			row["from"] = e.Notification.From
			if len(e.Notification.Data) > 0 {
				row["data"] = e.Notification.Data
			}
			if len(e.Notification.RawData) > 0 {
				row["raw_data_length"] = len(e.Notification.RawData)
			}
		}
		fmt.Fprintln(w, "---")
		yamlTo(w, row)
		return
	}

	switch e := ev.(type) {
	case pushreceiver.ServiceStarted:
		fmt.Fprintf(w, ">> STARTED token=%s\n", e.Token)
	case pushreceiver.TokenUpdated:
		fmt.Fprintf(w, ">> TOKEN %s\n", e.Token)
	case pushreceiver.ServiceError:
		fmt.Fprintf(w, ">> ERROR %s\n", e.Message)
	case pushreceiver.NotificationReceived:
		n := e.Notification
		fmt.Fprintf(w, ">> NOTIFICATION [%s] from=%s%s\n", n.PersistentID, n.From, formatData(n.Data))
	default:
		fmt.Fprintf(w, ">> %s\n", ev.Name())
	}
}

// formatData renders data as sorted key=value pairs.
func formatData(data map[string]string) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + truncateStr(data[k], 120)
	}
	return " " + strings.Join(parts, " ")
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strutil.Truncate(s, maxLen-3) + "..."
}
