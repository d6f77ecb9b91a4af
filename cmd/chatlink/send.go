package main

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/keepmind9/chatlink/internal/content"
	"github.com/keepmind9/chatlink/internal/core"
	"github.com/keepmind9/chatlink/pkg/constants"
	"github.com/spf13/cobra"
)

// sendOptions are the send command flags.
type sendOptions struct {
	config   string
	platform string
	chat     string
	text     string
	file     string
	photo    bool
	replyTo  string
	timeout  time.Duration
}

var sendOpts sendOptions

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message through one platform",
	Long: `Send a text message, optionally with a file attachment, to a chat through
one configured platform and print the sent message id.

Files are uploaded as documents unless --photo is set. Discord needs a live
gateway session and is not supported here.`,
	Example: `  chatlink send -p telegram --chat 12345 --text "build finished"
  chatlink send -p vk --chat 2000000001 --file report.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := resolveConfigPath(sendOpts.config)
		if err != nil {
			return err
		}
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		sent, err := runSend(cmd.Context(), config, sendOpts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Sent to %s chat %s (message %s)\n", sent.Platform, sent.ChatID, sent.MessageID)
		return nil
	},
}

func runSend(ctx context.Context, config *core.Config, opts sendOptions) (*bot.SentMessage, error) {
	if opts.platform == bot.PlatformDiscord {
		return nil, fmt.Errorf("%w: send does not support %s", bot.ErrUnsupported, opts.platform)
	}
	if opts.text == "" && opts.file == "" {
		return nil, fmt.Errorf("nothing to send: set --text or --file")
	}

	engine, err := newEngine(config)
	if err != nil {
		return nil, err
	}
	platform, err := engine.Platform(opts.platform)
	if err != nil {
		return nil, err
	}

	out := bot.OutMessage{ChatID: opts.chat, Text: opts.text, ReplyTo: opts.replyTo}
	if opts.file != "" {
		attachment, err := fileAttachment(opts.file, opts.photo)
		if err != nil {
			return nil, err
		}
		out.Attachment = attachment
	}

	transport := engine.Transport()
	if err := transport.Start(); err != nil {
		return nil, fmt.Errorf("failed to start http transport: %w", err)
	}
	defer transport.Stop()

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return platform.SendMessage(ctx, out)
}

// fileAttachment describes a local file. The file is opened lazily by the
// transport, so it is streamed rather than read into memory.
func fileAttachment(path string, photo bool) (*bot.Attachment, error) {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	file, err := content.OpenFile(contentType, path)
	if err != nil {
		return nil, err
	}

	kind := bot.AttachmentDocument
	if photo {
		kind = bot.AttachmentPhoto
	}
	return &bot.Attachment{Type: kind, FileName: filepath.Base(path), Content: file}, nil
}

func init() {
	sendCmd.Flags().StringVarP(&sendOpts.config, "config", "c", "", "Configuration file path")
	sendCmd.Flags().StringVarP(&sendOpts.platform, "platform", "p", bot.PlatformTelegram, "Platform to send through (telegram, vk)")
	sendCmd.Flags().StringVar(&sendOpts.chat, "chat", "", "Target chat or peer id")
	sendCmd.Flags().StringVarP(&sendOpts.text, "text", "t", "", "Message text")
	sendCmd.Flags().StringVarP(&sendOpts.file, "file", "f", "", "File to attach")
	sendCmd.Flags().BoolVar(&sendOpts.photo, "photo", false, "Send the file as a photo")
	sendCmd.Flags().StringVar(&sendOpts.replyTo, "reply-to", "", "Message id to reply to")
	sendCmd.Flags().DurationVar(&sendOpts.timeout, "timeout", constants.DefaultRequestTimeout, "Send timeout")
	_ = sendCmd.MarkFlagRequired("chat")
}
