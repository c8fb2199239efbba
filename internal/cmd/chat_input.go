package cmd

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/config"
)

// Input caps for --image files and prompts read from stdin.
const (
	maxImageBytes  = 10 << 20
	maxPromptBytes = 1 << 20
)

// chatFlags are the request flags shared by ask, stream and compare.
type chatFlags struct {
	provider  string
	model     string
	apiKey    string
	system    string
	image     string
	maxTokens int
}

func addChatFlags(cmd *cobra.Command, f *chatFlags, withTarget bool) {
	if withTarget {
		cmd.Flags().StringVar(&f.provider, "provider", "", "Provider id (default: ailink.default_provider)")
		cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model to request (default: the provider's default model)")
	}
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Use your own API key instead of the shared credential")
	cmd.Flags().StringVar(&f.system, "system", "", "Optional system message")
	cmd.Flags().StringVar(&f.image, "image", "", "Image file or data URL attached to the last user message")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens in the answer (0 = provider default)")
}

// request builds the chat request for prompt.
func (f chatFlags) request(prompt string) (ailink.ChatRequest, error) {
	messages := make([]content.Message, 0, 2)
	if system := strings.TrimSpace(f.system); system != "" {
		messages = append(messages, content.TextMessage(content.RoleSystem, system))
	}
	messages = append(messages, content.TextMessage(content.RoleUser, prompt))

	req := ailink.ChatRequest{
		Provider: strings.TrimSpace(f.provider),
		Model:    strings.TrimSpace(f.model),
		Messages: messages,
		APIKey:   strings.TrimSpace(f.apiKey),
	}
	if f.maxTokens > 0 {
		maxTokens := f.maxTokens
		req.MaxTokens = &maxTokens
	}
	if strings.TrimSpace(f.image) != "" {
		dataURL, err := imageDataURL(f.image)
		if err != nil {
			return ailink.ChatRequest{}, err
		}
		req.ImageDataURL = dataURL
	}
	return req, nil
}

// readPrompt joins args, or reads stdin when no args are given or the only
// arg is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		args = nil
	}
	if len(args) > 0 {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		if prompt == "" {
			return "", fmt.Errorf("prompt is empty")
		}
		return prompt, nil
	}

	if f, ok := stdin.(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("prompt is required (pass it as arguments or pipe it on stdin)")
		}
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxPromptBytes))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	return prompt, nil
}

func imageDataURL(value string) (string, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "data:") {
		return value, nil
	}

	st, err := os.Stat(value)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if st.Size() > maxImageBytes {
		return "", fmt.Errorf("image %s is larger than %d bytes", value, maxImageBytes)
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", value, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func newService(cfg *config.Config) *ailink.Service {
	return ailink.NewService(ailink.NewRegistry(cfg.AILink))
}
