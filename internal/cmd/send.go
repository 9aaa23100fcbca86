package cmd

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	apperrors "github.com/zfogg/emoine/pkg/errors"
	"github.com/zfogg/emoine/pkg/output"
	"golang.org/x/term"
)

var (
	sendHex     bool
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one binary frame",
	Long: `Send one binary frame on the shared connection. The payload is the
message argument, or standard input when it is piped.`,
	Example: `  emoine send hello
  emoine send --hex 00ff10
  cat reaction.bin | emoine send`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stdinIsTerminal := term.IsTerminal(int(os.Stdin.Fd()))
		payload, err := readPayload(args, os.Stdin, stdinIsTerminal, sendHex)
		if err != nil {
			return err
		}

		conn := getConnection(wsConfig())

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		if err := conn.WaitOpen(ctx); err != nil {
			_ = closeConnection(conn, "send aborted")
			return apperrors.CategorizeError(err)
		}

		if err := conn.Send(payload); err != nil {
			_ = closeConnection(conn, "send failed")
			return err
		}

		output.PrintSuccess("Sent %d bytes to %s", len(payload), conn.URL())
		return closeConnection(conn, "done")
	},
}

// readPayload picks the payload from args or stdin and decodes hex if asked
func readPayload(args []string, stdin io.Reader, stdinIsTerminal, hexMode bool) ([]byte, error) {
	var raw []byte
	switch {
	case len(args) == 1:
		raw = []byte(args[0])
	case !stdinIsTerminal:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = data
	default:
		return nil, apperrors.ValidationError("message", "pass a message argument or pipe data on stdin")
	}

	if hexMode {
		decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, apperrors.ValidationError("message", "not valid hex: "+err.Error())
		}
		raw = decoded
	}

	if len(raw) == 0 {
		return nil, apperrors.ValidationError("message", "payload is empty")
	}
	return raw, nil
}

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "Decode the payload from hex")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the connection to open")
}
