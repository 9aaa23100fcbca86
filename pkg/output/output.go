package output

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/zfogg/emoine/pkg/config"
	"github.com/zfogg/emoine/pkg/websocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer receives everything printed by this package
var Writer io.Writer = color.Output

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
	FormatText  OutputFormat = "text"
)

// GetOutputFormat returns the configured output format
func GetOutputFormat() OutputFormat {
	switch config.GetString("output.format") {
	case "json":
		return FormatJSON
	case "table":
		return FormatTable
	default:
		return FormatText
	}
}

// ValidateOutputFormat checks if format is valid
func ValidateOutputFormat(format string) bool {
	return format == "json" || format == "table" || format == "text"
}

// Print outputs data in the configured format with optional title
func Print(title string, data interface{}) error {
	if GetOutputFormat() == FormatJSON {
		return printJSON(data)
	}
	if title != "" {
		fmt.Fprintf(Writer, "%s:\n", title)
	}
	pretty, err := FormatAsPrettyJSON(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(Writer, pretty)
	return nil
}

// PrintRecord outputs a flat record with keys in sorted order
func PrintRecord(title string, record map[string]interface{}) error {
	switch GetOutputFormat() {
	case FormatJSON:
		return printJSON(record)
	case FormatTable:
		rows := make([][]string, 0, len(record))
		for _, k := range sortedKeys(record) {
			rows = append(rows, []string{k, fmt.Sprintf("%v", record[k])})
		}
		PrintTable([]string{"Key", "Value"}, rows)
		return nil
	default:
		if title != "" {
			fmt.Fprintf(Writer, "%s:\n", title)
		}
		bold := color.New(color.Bold)
		for _, k := range sortedKeys(record) {
			bold.Fprint(Writer, k+": ")
			fmt.Fprintf(Writer, "%v\n", record[k])
		}
		return nil
	}
}

// PrintTable writes aligned columns with a bold header row
func PrintTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(Writer, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold)

	for i, h := range headers {
		bold.Fprint(w, h)
		if i < len(headers)-1 {
			fmt.Fprint(w, "\t")
		}
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, cell := range row {
			fmt.Fprint(w, cell)
			if i < len(row)-1 {
				fmt.Fprint(w, "\t")
			}
		}
		fmt.Fprintln(w)
	}

	w.Flush()
}

// eventRecord is the JSON shape of a socket event
type eventRecord struct {
	Time     string `json:"time"`
	Type     string `json:"type"`
	Binary   bool   `json:"binary,omitempty"`
	Data     string `json:"data,omitempty"`
	Hex      string `json:"hex,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     int    `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	WasClean bool   `json:"was_clean,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// PrintEvent writes one line per socket event. Text output colors the event
// type; JSON output emits one object per line.
func PrintEvent(ev websocket.Event) error {
	if GetOutputFormat() == FormatJSON {
		line, err := json.Marshal(toEventRecord(ev))
		if err != nil {
			return err
		}
		fmt.Fprintln(Writer, string(line))
		return nil
	}

	ts := ev.Time.Format("15:04:05.000")
	label := eventColor(ev.Type).Sprintf("%-7s", ev.Type)

	switch ev.Type {
	case websocket.EventMessage:
		fmt.Fprintf(Writer, "%s %s %s\n", ts, label, payloadText(ev.Data))
	default:
		fmt.Fprintf(Writer, "%s %s %s\n", ts, label, ev.String())
	}
	return nil
}

func toEventRecord(ev websocket.Event) eventRecord {
	rec := eventRecord{
		Time:     ev.Time.Format(time.RFC3339Nano),
		Type:     string(ev.Type),
		Code:     ev.Code,
		Reason:   ev.Reason,
		WasClean: ev.WasClean,
		Attempt:  ev.Attempt,
	}
	if ev.Type == websocket.EventMessage {
		rec.Binary = ev.IsBinary()
		if utf8.Valid(ev.Data) {
			rec.Data = string(ev.Data)
		} else {
			rec.Hex = hex.EncodeToString(ev.Data)
		}
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}

func eventColor(t websocket.EventType) *color.Color {
	switch t {
	case websocket.EventOpen:
		return color.New(color.FgGreen)
	case websocket.EventError:
		return color.New(color.FgRed)
	case websocket.EventClose:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// payloadText prints valid UTF-8 as is and anything else as hex
func payloadText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return "0x" + hex.EncodeToString(data)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(Writer, msg+"\n", args...)
}

// PrintError prints an error message
func PrintError(msg string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(Writer, "Error: "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(Writer, msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(Writer, "Warning: "+msg+"\n", args...)
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func sortedKeys(record map[string]interface{}) []string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatAsJSON converts data to a compact JSON string
func FormatAsJSON(data interface{}) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FormatAsPrettyJSON converts data to an indented JSON string
func FormatAsPrettyJSON(data interface{}) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
