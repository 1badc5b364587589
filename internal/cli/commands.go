package cli

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/maynagashev/zerotrust/internal/client/api"
	"github.com/maynagashev/zerotrust/internal/client/keystore"
	"github.com/maynagashev/zerotrust/models"
)

// NewKeygenCommand создает команду генерации ключа.
func NewKeygenCommand(opts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Создать ключ ed25519",
		Long: `Создает ключ ed25519 и сохраняет путь к нему в настройках.
Существующий ключ перезаписывается только с --force.

Если путь ключа оканчивается на .kdbx, ключ шифруется паролем
из переменной окружения ` + EnvKeyPassword + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			key, err := keystore.GenerateKey(s.config.KeyPath, force, s.keyOptions()...)
			if err != nil {
				return err
			}
			// Старый токен выдан другому ключу
			s.config.Token = ""
			if err = s.save(); err != nil {
				return err
			}

			owner := publicKeyString(key)
			return writeOutput(cmd.OutOrStdout(), opts.Format,
				map[string]string{"public_key": owner, "key_path": s.config.KeyPath},
				[]field{{"public_key", owner}, {"key_path", s.config.KeyPath}})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolVar(&force, "force", false, "перезаписать существующий ключ")
	return cmd
}

// NewAddressCommand создает команду вычисления адреса записи.
func NewAddressCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address [owner]",
		Short: "Показать адрес записи владельца",
		Long:  "Показывает производный адрес записи владельца. Без аргумента используется собственный ключ.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}

			var owner string
			if len(args) == 1 {
				owner = args[0]
			} else {
				key, keyErr := s.key()
				if keyErr != nil {
					return keyErr
				}
				owner = publicKeyString(key)
			}

			c, err := s.client(false)
			if err != nil {
				return err
			}
			derived, err := c.Address(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.Format, derived, []field{
				{"owner", derived.Owner},
				{"address", derived.Address},
				{"bump", derived.Bump},
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// NewLoginCommand создает команду входа.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Войти на сервер",
		Long:  "Подписывает одноразовый nonce сервера своим ключом и сохраняет выданный токен в настройках.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			key, err := s.key()
			if err != nil {
				return err
			}
			c, err := s.client(false)
			if err != nil {
				return err
			}

			token, err := api.Authenticate(cmd.Context(), c, key)
			if err != nil {
				return err
			}
			s.config.Token = token
			if err = s.save(); err != nil {
				return err
			}
			slog.Debug("Токен сохранен", "config", s.configPath)

			owner := publicKeyString(key)
			return writeOutput(cmd.OutOrStdout(), opts.Format,
				map[string]string{"owner": owner, "server": s.config.ServerURL},
				[]field{{"owner", owner}, {"server", s.config.ServerURL}})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// PutOptions флаги команды put.
type PutOptions struct {
	Hash    string
	File    string
	Address string
}

// NewPutCommand создает команду записи.
func NewPutCommand(opts *RootOptions) *cobra.Command {
	putOpts := &PutOptions{}

	cmd := &cobra.Command{
		Use:   "put <uri>",
		Short: "Создать или обновить запись",
		Long: `Сохраняет хеш данных и ссылку на них в своей записи.

Хеш задается флагом --hash (32 байта в hex) или вычисляется как SHA-256 файла из --file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, opts, putOpts, args[0])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&putOpts.Hash, "hash", "", "хеш данных, 32 байта в hex")
	cmd.Flags().StringVar(&putOpts.File, "file", "", "файл, SHA-256 которого станет хешем")
	cmd.Flags().StringVar(&putOpts.Address, "address", "", "адрес записи (по умолчанию собственный)")
	return cmd
}

func runPut(cmd *cobra.Command, opts *RootOptions, putOpts *PutOptions, uri string) error {
	if (putOpts.Hash == "") == (putOpts.File == "") {
		return ErrHashSource
	}
	dataHash := putOpts.Hash
	if putOpts.File != "" {
		sum, err := hashFile(putOpts.File)
		if err != nil {
			return err
		}
		dataHash = sum
	}

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	c, err := s.client(true)
	if err != nil {
		return err
	}

	rec, created, err := c.PutRecord(cmd.Context(), models.UpsertRecordRequest{
		DataHash: dataHash,
		URI:      uri,
		Address:  putOpts.Address,
	})
	if err != nil {
		return err
	}

	action := "updated"
	if created {
		action = "created"
	}
	slog.Debug("Запись сохранена", "address", rec.Address, "action", action)
	return writeOutput(cmd.OutOrStdout(), opts.Format, rec, append([]field{{"result", action}}, recordFields(rec)...))
}

// NewGetCommand создает команду чтения записи.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Показать запись",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			c, err := s.client(true)
			if err != nil {
				return err
			}
			rec, err := c.GetRecord(cmd.Context(), target)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.Format, rec, recordFields(rec))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&target, "address", "", "адрес записи (по умолчанию собственный)")
	return cmd
}

// NewDeleteCommand создает команду удаления записи.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Удалить запись и вернуть депозит",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			c, err := s.client(true)
			if err != nil {
				return err
			}
			deleted, err := c.DeleteRecord(cmd.Context(), target)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.Format, deleted, []field{
				{"address", deleted.Address},
				{"refunded", deleted.Refunded},
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&target, "address", "", "адрес записи (по умолчанию собственный)")
	return cmd
}

// NewBalanceCommand создает команду просмотра баланса.
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Показать баланс депозитов",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			c, err := s.client(true)
			if err != nil {
				return err
			}
			balance, err := c.Balance(cmd.Context())
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.Format, balance, []field{
				{"owner", balance.Owner},
				{"lamports", balance.Lamports},
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func recordFields(rec *models.Record) []field {
	return []field{
		{"address", rec.Address},
		{"owner", rec.Owner},
		{"data_hash", rec.DataHash},
		{"uri", rec.URI},
		{"bump", rec.Bump},
		{"space", rec.Space},
		{"lamports", rec.Lamports},
	}
}

func publicKeyString(key ed25519.PrivateKey) string {
	return base58.Encode(key[ed25519.SeedSize:])
}

// hashFile вычисляет SHA-256 содержимого файла.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", fmt.Errorf("ошибка чтения файла: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
