package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fiestalabs/fiesta/internal/ailink/sse"
)

var (
	streamFlags chatFlags
	streamRaw   bool
)

var streamCmd = &cobra.Command{
	Use:   "stream [prompt...]",
	Short: "Stream one provider's answer as it is generated",
	Long: `Stream one provider's answer to stdout token by token.

With --raw the item frames are written exactly as POST /api/chat/stream
sends them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := readPrompt(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		req, err := streamFlags.request(prompt)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var sink func(sse.Event)
		var streamErr error
		if streamRaw {
			enc := sse.NewEncoder(out)
			sink = func(ev sse.Event) {
				if err := enc.Encode(ev); err != nil && streamErr == nil {
					streamErr = err
				}
			}
		} else {
			sink = textSink(out, cmd.ErrOrStderr(), &streamErr)
		}

		if err := newService(cfg).Stream(cmd.Context(), req, sink); err != nil {
			return err
		}
		return streamErr
	},
}

// textSink prints tokens as they arrive. An Error event is reported on
// errOut and remembered so the command exits non-zero.
func textSink(out, errOut io.Writer, streamErr *error) func(sse.Event) {
	wroteToken := false
	return func(ev sse.Event) {
		switch ev.Kind {
		case sse.KindToken:
			wroteToken = true
			_, _ = fmt.Fprint(out, ev.Delta)
		case sse.KindError:
			if wroteToken {
				_, _ = fmt.Fprintln(out)
				wroteToken = false
			}
			_, _ = fmt.Fprintf(errOut, "error from %s: %s\n", ev.Provider, ev.Message)
			if *streamErr == nil {
				*streamErr = fmt.Errorf("stream failed: %s", ev.Message)
			}
		case sse.KindDone:
			if wroteToken {
				_, _ = fmt.Fprintln(out)
				wroteToken = false
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(streamCmd)
	addChatFlags(streamCmd, &streamFlags, true)
	streamCmd.Flags().BoolVar(&streamRaw, "raw", false, "Write raw SSE item frames")
}
