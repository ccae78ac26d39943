// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Axion-inc/DesktopAgent/internal/trust"
)

func newSignCmd() *cobra.Command {
	var keyID, privateKeyFile, out string
	cmd := &cobra.Command{
		Use:   "sign <file>",
		Short: "Sign a plan template's canonical bytes with an Ed25519 key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(args[0], keyID, privateKeyFile, out)
		},
	}
	cmd.Flags().StringVar(&keyID, "key-id", "", "key_id this signature will be verified under (must match the trust store)")
	cmd.Flags().StringVar(&privateKeyFile, "private-key-file", "", "path to a hex-encoded Ed25519 private key (32-byte seed or 64-byte key)")
	cmd.Flags().StringVar(&out, "out", "", "write the signed plan here instead of overwriting the input file")
	cmd.MarkFlagRequired("key-id")
	cmd.MarkFlagRequired("private-key-file")
	return cmd
}

func loadEd25519PrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode private key hex: %w", err)
	}
	switch len(decoded) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	default:
		return nil, fmt.Errorf("private key must be %d (seed) or %d (full key) bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(decoded))
	}
}

func runSign(path, keyID, privateKeyFile, out string) error {
	plan, err := loadPlan(path)
	if err != nil {
		return err
	}

	priv, err := loadEd25519PrivateKey(privateKeyFile)
	if err != nil {
		return fail(ExitIOError, err)
	}

	if err := trust.Sign(plan, keyID, priv, time.Now()); err != nil {
		return fail(ExitExecutionFailed, fmt.Errorf("sign plan: %w", err))
	}

	b, err := marshalPlan(plan)
	if err != nil {
		return fail(ExitExecutionFailed, fmt.Errorf("marshal signed plan: %w", err))
	}

	dest := out
	if dest == "" {
		dest = path
	}
	if err := os.WriteFile(dest, b, 0o644); err != nil {
		return fail(ExitIOError, fmt.Errorf("write %s: %w", dest, err))
	}

	fmt.Println(colorSuccess(fmt.Sprintf("%s: signed with key %q, written to %s", plan.Name, keyID, dest)))
	return nil
}
