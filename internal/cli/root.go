// Package cli реализует команды recordctl.
package cli

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/maynagashev/zerotrust/internal/client/api"
	"github.com/maynagashev/zerotrust/internal/client/keystore"
)

const (
	defaultServerURL = "https://localhost:8443"
	configFileName   = "config.yaml"
	keyFileName      = "id.key"

	// EnvKeyPassword переменная окружения с паролем ключа в формате .kdbx.
	EnvKeyPassword = "RECORDCTL_KEY_PASSWORD"
)

// ValidFormats допустимые форматы вывода.
var ValidFormats = []string{"text", "json"} //nolint:gochecknoglobals // неизменяемый список

// RootOptions глобальные флаги всех команд.
type RootOptions struct {
	ConfigPath string
	ServerURL  string
	KeyPath    string
	Format     string // "text" | "json"
	Verbose    bool

	// NewClient создает API клиент, подменяется в тестах.
	NewClient func(baseURL string) api.Client
}

// NewRootCommand создает корневую команду recordctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{NewClient: api.NewHTTPClient}

	cmd := &cobra.Command{
		Use:   "recordctl",
		Short: "Клиент хранилища записей владельцев",
		Long: `recordctl управляет записью, привязанной к вашему ключу ed25519.

Запись хранит хеш данных и ссылку на них по адресу, производному от ключа.
Изменять и удалять запись может только владелец ключа.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("%w %q: допустимы %v", ErrUnknownFormat, opts.Format, ValidFormats)
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "путь к файлу настроек")
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "", "URL сервера (по умолчанию из настроек)")
	cmd.PersistentFlags().StringVar(&opts.KeyPath, "key", "", "путь к файлу ключа (по умолчанию из настроек)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "формат вывода (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "подробный лог в stderr")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))

	return cmd
}

// setupLogging направляет slog в stderr, чтобы не смешивать лог с выводом команд.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// session собирает настройки, флаги и клиента для одной команды.
type session struct {
	opts       *RootOptions
	configPath string
	config     *keystore.Config
}

func openSession(opts *RootOptions) (*session, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		dir, err := keystore.DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, configFileName)
	}

	cfg, err := keystore.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Флаги имеют приоритет над файлом настроек
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	if opts.KeyPath != "" {
		cfg.KeyPath = opts.KeyPath
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(filepath.Dir(configPath), keyFileName)
	}

	slog.Debug("Настройки загружены", "config", configPath, "server", cfg.ServerURL, "key", cfg.KeyPath)
	return &session{opts: opts, configPath: configPath, config: cfg}, nil
}

func (s *session) save() error {
	return keystore.SaveConfig(s.configPath, s.config)
}

func (s *session) key() (ed25519.PrivateKey, error) {
	key, err := keystore.LoadKey(s.config.KeyPath, s.keyOptions()...)
	if err != nil {
		return nil, fmt.Errorf("ключ не загружен (выполните keygen): %w", err)
	}
	return key, nil
}

func (s *session) keyOptions() []keystore.Option {
	if password := os.Getenv(EnvKeyPassword); password != "" {
		return []keystore.Option{keystore.WithPassword(password)}
	}
	return nil
}

// client возвращает API клиент; с authenticated требуется сохраненный токен.
func (s *session) client(authenticated bool) (api.Client, error) {
	c := s.opts.NewClient(s.config.ServerURL)
	if authenticated {
		if s.config.Token == "" {
			return nil, api.ErrNoToken
		}
		c.SetAuthToken(s.config.Token)
	}
	return c, nil
}

// Ошибки командной строки.
var (
	ErrUnknownFormat = errors.New("неизвестный формат")
	ErrHashSource    = errors.New("укажите ровно один из флагов --hash или --file")
)
