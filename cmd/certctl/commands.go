package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"certify/internal/certificate/canonical"
	"certify/internal/certificate/signature"
	jwttoken "certify/internal/jwt_token"
	"certify/internal/platform/config"
	"certify/internal/platform/kafka"
	"certify/pkg/domain"
	"certify/pkg/platform/audit/store/stream"
)

var canonicalizeCmd = &cli.Command{
	Name:  "canonicalize",
	Usage: "print the canonical form of a document and its signing hash",
	Flags: []cli.Flag{inFlag, recursiveFlag},
	Action: func(c *cli.Context) error {
		doc, err := readInput(c)
		if err != nil {
			return err
		}
		canon, err := encoder(c).Encode(doc)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(canon))
		fmt.Fprintln(c.App.Writer, "hash:", signature.HashMessageHex(canon))
		return nil
	},
}

var signCmd = &cli.Command{
	Name:  "sign",
	Usage: "embed a signature envelope in a document",
	Flags: []cli.Flag{inFlag, keyFlag, recursiveFlag,
		&cli.BoolFlag{Name: "embed-hash", Value: true, Usage: "include signedHash in the envelope"},
	},
	Action: func(c *cli.Context) error {
		doc, err := readInput(c)
		if err != nil {
			return err
		}
		signer, err := signature.SignerFromHex(c.String("key"), signature.WithSignerEncoder(encoder(c)))
		if err != nil {
			return err
		}
		signed, err := signer.SignDocument(doc, c.Bool("embed-hash"))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(signed))
		return nil
	},
}

var verifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "verify a signed document and print the structured result",
	Flags: []cli.Flag{inFlag, recursiveFlag},
	Action: func(c *cli.Context) error {
		doc, err := readInput(c)
		if err != nil {
			return err
		}
		result := signature.NewVerifier(signature.WithEncoder(encoder(c))).VerifySignature(json.RawMessage(doc))
		if err := writeJSON(c.App.Writer, result); err != nil {
			return err
		}
		if !result.IsValid {
			return cli.Exit("signature is not valid: "+result.Reason, 2)
		}
		return nil
	},
}

var verifyBatchCmd = &cli.Command{
	Name:  "verify-batch",
	Usage: "verify a JSON array of signed documents",
	Flags: []cli.Flag{inFlag, recursiveFlag,
		&cli.IntFlag{Name: "concurrency", Value: 8, EnvVars: []string{"BATCH_VERIFY_CONCURRENCY"}},
	},
	Action: func(c *cli.Context) error {
		raw, err := readInput(c)
		if err != nil {
			return err
		}
		var docs []json.RawMessage
		if err := json.Unmarshal(raw, &docs); err != nil {
			return cli.Exit("input must be a JSON array of documents", 1)
		}
		v := signature.NewVerifier(signature.WithEncoder(encoder(c)), signature.WithConcurrency(c.Int("concurrency")))
		return writeJSON(c.App.Writer, v.VerifyBatchSignatures(c.Context, docs))
	},
}

var cidCmd = &cli.Command{
	Name:  "cid",
	Usage: "print the ipfs:// URI of a document's canonical form",
	Flags: []cli.Flag{inFlag, recursiveFlag},
	Action: func(c *cli.Context) error {
		doc, err := readInput(c)
		if err != nil {
			return err
		}
		uri, err := encoder(c).ContentURI(json.RawMessage(doc))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, uri)
		return nil
	},
}

var addressCmd = &cli.Command{
	Name:  "address",
	Usage: "print the identity of a private key",
	Flags: []cli.Flag{keyFlag},
	Action: func(c *cli.Context) error {
		signer, err := signature.SignerFromHex(c.String("key"))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, signer.Identity())
		return nil
	},
}

var tokenCmd = &cli.Command{
	Name:  "token",
	Usage: "mint a bearer token for an identity",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "sub", Required: true, Usage: "principal identity"},
		&cli.DurationFlag{Name: "ttl", Value: time.Hour},
		&cli.StringFlag{Name: "signing-key", EnvVars: []string{"JWT_SIGNING_KEY"}, Value: "dev-secret-key-change-in-production"},
		&cli.StringFlag{Name: "issuer", EnvVars: []string{"JWT_ISSUER"}, Value: "certify"},
		&cli.StringFlag{Name: "audience", EnvVars: []string{"JWT_AUDIENCE"}, Value: "certify-api"},
	},
	Action: func(c *cli.Context) error {
		principal, err := domain.ParseIdentity(c.String("sub"))
		if err != nil {
			return err
		}
		svc := jwttoken.NewJWTService(c.String("signing-key"), c.String("issuer"), c.String("audience"))
		token, err := svc.GenerateAccessToken(principal, c.Duration("ttl"))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, token)
		return nil
	},
}

var eventsCmd = &cli.Command{
	Name:  "events",
	Usage: "inspect the audit event stream",
	Subcommands: []*cli.Command{{
		Name:  "tail",
		Usage: "print audit events as they are published",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "brokers", Required: true, EnvVars: []string{"KAFKA_BROKERS"}},
			&cli.StringFlag{Name: "topic", Value: "certify.certificates", EnvVars: []string{"KAFKA_TOPIC"}},
			&cli.StringFlag{Name: "group", Value: "certctl-tail"},
		},
		Action: func(c *cli.Context) error {
			logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, nil))
			consumer, err := kafka.NewConsumer(config.KafkaConfig{
				Brokers:  c.StringSlice("brokers"),
				Topic:    c.String("topic"),
				ClientID: "certctl",
			}, c.String("group"), logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			err = consumer.Run(c.Context, kafka.HandlerFunc(func(_ context.Context, msg *kafka.Message) error {
				event, err := stream.Decode(msg.Value)
				if err != nil {
					logger.Warn("skipping undecodable event", "offset", msg.Offset, "error", err)
					return nil
				}
				fmt.Fprintf(c.App.Writer, "%s %-28s %-10s subject=%s actor=%s\n",
					event.Timestamp.Format(time.RFC3339), event.Action, event.Category, event.Subject, event.ActorID)
				return nil
			}))
			if err != nil && c.Context.Err() == nil {
				return err
			}
			return nil
		},
	}},
}

func encoder(c *cli.Context) *canonical.Encoder {
	if c.Bool("recursive") {
		return canonical.New(canonical.WithRecursive())
	}
	return canonical.New()
}

func readInput(c *cli.Context) ([]byte, error) {
	path := strings.TrimSpace(c.String("in"))
	if path == "-" {
		reader := c.App.Reader
		if reader == nil {
			reader = os.Stdin
		}
		return io.ReadAll(reader)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
