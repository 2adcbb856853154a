// Command montana-node is the operator-facing CLI of spec.md §6.4:
// initialize a data directory, run a node, manage ML-DSA-65 key
// material, inspect join status, import bootstrap anchors, and manage a
// persisted address ban list.
//
// Grounded on the teacher's cmd/rubin-node/main.go: a pure
// run(args, stdout, stderr) int entrypoint keeps main itself a one-line
// os.Exit(run(...)) shim, signal.NotifyContext drives graceful shutdown,
// and the teacher's own framing of its node command as a composition-root
// skeleton (rubin-node prints "skeleton running" and blocks on
// ctx.Done() without a live network loop) carries over directly: `node`
// here wires config, storage and the status tracker but does not itself
// accept socket connections.
//
// Exit codes follow spec.md §6.4: 0 ok, 2 config error, 3 bootstrap
// aborted, 4 storage corruption, 5 crypto primitive unavailable.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/pq"
	"github.com/montana-acp/core/status"
	"github.com/montana-acp/core/storage"
	"github.com/montana-acp/core/version"
)

const (
	exitOK                = 0
	exitConfigError       = 2
	exitBootstrapAborted  = 3
	exitStorageCorrupt    = 4
	exitCryptoUnavailable = 5
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run builds and executes the CLI. It disables urfave/cli's default
// exit-on-error behavior (ExitErrHandler normally calls os.Exit from
// inside app.Run) so the exit code can be computed and returned here
// instead, keeping run itself free of direct process exits.
func run(args []string, stdout, stderr io.Writer) int {
	app := &cli.App{
		Name:           "montana-node",
		Usage:          "Montana ACP reference node",
		Version:        version.Current().String(),
		Writer:         stdout,
		ErrWriter:      stderr,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			initCommand(),
			nodeCommand(stdout),
			keygenCommand(stdout),
			signCommand(stdout),
			verifyCommand(stdout),
			statusCommand(stdout),
			importAnchorsCommand(stdout),
			banCommand(stdout),
			unbanCommand(stdout),
		},
	}

	err := app.Run(args)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintln(stderr, err)
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitConfigError
}

func dataDirFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "data-dir", Value: "./montana-data", Usage: "node data directory"}
}

func networkFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "network", Value: "mainnet", Usage: "mainnet or testnet"}
}

func presetFor(network string) (config.Config, error) {
	switch network {
	case "mainnet":
		return config.Mainnet(), nil
	case "testnet":
		return config.Testnet(), nil
	default:
		return config.Config{}, fmt.Errorf("unknown network %q (want mainnet or testnet)", network)
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "initialize a fresh data directory",
		Flags: []cli.Flag{dataDirFlag()},
		Action: func(c *cli.Context) error {
			dataDir := c.String("data-dir")
			st, err := storage.Open(dataDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("init: %v", err), exitStorageCorrupt)
			}
			defer st.Close()
			_, _ = fmt.Fprintf(c.App.Writer, "initialized data directory %s\n", dataDir)
			return nil
		},
	}
}

func nodeCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "node",
		Usage: "run a node",
		Flags: []cli.Flag{
			dataDirFlag(),
			networkFlag(),
			&cli.UintFlag{Name: "port", Value: uint(config.DefaultPort), Usage: "listen port"},
			&cli.BoolFlag{Name: "full", Value: true, Usage: "run as a full node"},
			&cli.BoolFlag{Name: "light", Usage: "run as a light node (overrides --full)"},
		},
		Action: func(c *cli.Context) error {
			preset, err := presetFor(c.String("network"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("node: %v", err), exitConfigError)
			}
			full := c.Bool("full") && !c.Bool("light")
			cfg := config.NewBuilder(preset).
				WithDataDir(c.String("data-dir")).
				WithListenPort(uint16(c.Uint("port"))).
				WithFullNode(full).
				Build()

			st, err := storage.Open(cfg.DataDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("node: open storage: %v", err), exitStorageCorrupt)
			}
			defer st.Close()

			banned, err := st.BannedAddresses()
			if err != nil {
				return cli.Exit(fmt.Sprintf("node: load ban list: %v", err), exitStorageCorrupt)
			}

			meta, err := st.ChainMetaSnapshot()
			if err != nil {
				return cli.Exit(fmt.Sprintf("node: load chain meta: %v", err), exitStorageCorrupt)
			}

			tracker := status.New()
			if meta.TipHeight > 0 {
				tracker.SetJoined(meta.TipHash, meta.TipHeight)
			}

			_, _ = fmt.Fprintf(stdout, "montana-node %s starting: network=%s data-dir=%s port=%d full=%v banned-addrs=%d\n",
				version.Current(), cfg.Network, cfg.DataDir, cfg.ListenPort, cfg.FullNode, len(banned))
			_, _ = fmt.Fprintf(stdout, "status: %s\n", tracker.Snapshot())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			_, _ = fmt.Fprintln(stdout, "montana-node stopped")
			return nil
		},
	}
}

func keyPaths(dataDir string) (pkPath, skPath string) {
	return filepath.Join(dataDir, "node.pk"), filepath.Join(dataDir, "node.sk")
}

func keygenCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate and persist a fresh ML-DSA-65 keypair",
		Flags: []cli.Flag{dataDirFlag()},
		Action: func(c *cli.Context) error {
			dataDir := c.String("data-dir")
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return cli.Exit(fmt.Sprintf("keygen: %v", err), exitConfigError)
			}
			pk, sk, err := pq.GenerateKey()
			if err != nil {
				return cli.Exit(fmt.Sprintf("keygen: %v", err), exitCryptoUnavailable)
			}
			pkBytes, err := pk.MarshalBinary()
			if err != nil {
				return cli.Exit(fmt.Sprintf("keygen: %v", err), exitCryptoUnavailable)
			}
			skBytes, err := sk.MarshalBinary()
			if err != nil {
				return cli.Exit(fmt.Sprintf("keygen: %v", err), exitCryptoUnavailable)
			}
			pkPath, skPath := keyPaths(dataDir)
			if err := os.WriteFile(pkPath, pkBytes, 0o600); err != nil {
				return cli.Exit(fmt.Sprintf("keygen: write public key: %v", err), exitStorageCorrupt)
			}
			if err := os.WriteFile(skPath, skBytes, 0o600); err != nil {
				return cli.Exit(fmt.Sprintf("keygen: write private key: %v", err), exitStorageCorrupt)
			}
			_, _ = fmt.Fprintf(stdout, "wrote %s and %s\n", pkPath, skPath)
			return nil
		},
	}
}

func signCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "sign",
		Usage:     "sign a message file with the data directory's private key",
		ArgsUsage: "<message-file>",
		Flags:     []cli.Flag{dataDirFlag()},
		Action: func(c *cli.Context) error {
			msgPath := c.Args().First()
			if msgPath == "" {
				return cli.Exit("sign: a message-file argument is required", exitConfigError)
			}
			_, skPath := keyPaths(c.String("data-dir"))
			skBytes, err := os.ReadFile(skPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("sign: read private key: %v", err), exitConfigError)
			}
			sk, err := pq.PrivateKeyFromBytes(skBytes)
			if err != nil {
				return cli.Exit(fmt.Sprintf("sign: %v", err), exitCryptoUnavailable)
			}
			msg, err := os.ReadFile(msgPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("sign: read message: %v", err), exitConfigError)
			}
			sig := pq.Sign(sk, msg)
			_, _ = fmt.Fprintf(stdout, "%x\n", []byte(sig))
			return nil
		},
	}
}

func verifyCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "verify a hex signature over a message file against the data directory's public key",
		ArgsUsage: "<message-file> <signature-hex>",
		Flags:     []cli.Flag{dataDirFlag()},
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("verify: message-file and signature-hex arguments are required", exitConfigError)
			}
			msgPath := c.Args().Get(0)
			sigHex := c.Args().Get(1)

			pkPath, _ := keyPaths(c.String("data-dir"))
			pkBytes, err := os.ReadFile(pkPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("verify: read public key: %v", err), exitConfigError)
			}
			pk, err := pq.PublicKeyFromBytes(pkBytes)
			if err != nil {
				return cli.Exit(fmt.Sprintf("verify: %v", err), exitCryptoUnavailable)
			}
			msg, err := os.ReadFile(msgPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("verify: read message: %v", err), exitConfigError)
			}
			sigBytes, err := hexDecode(sigHex)
			if err != nil {
				return cli.Exit(fmt.Sprintf("verify: decode signature: %v", err), exitConfigError)
			}
			if !pq.Verify(pk, msg, pq.Signature(sigBytes)) {
				return cli.Exit("verify: signature does not verify", exitCryptoUnavailable)
			}
			_, _ = fmt.Fprintln(stdout, "signature verifies")
			return nil
		},
	}
}

func statusCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the node's persisted join status",
		Flags: []cli.Flag{dataDirFlag()},
		Action: func(c *cli.Context) error {
			st, err := storage.Open(c.String("data-dir"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("status: %v", err), exitStorageCorrupt)
			}
			defer st.Close()

			meta, err := st.ChainMetaSnapshot()
			if err != nil {
				return cli.Exit(fmt.Sprintf("status: %v", err), exitStorageCorrupt)
			}
			tracker := status.New()
			if meta.TipHeight > 0 {
				tracker.SetJoined(meta.TipHash, meta.TipHeight)
			}
			_, _ = fmt.Fprintln(stdout, tracker.Snapshot())
			return nil
		},
	}
}

// anchorEntry is the on-disk JSON shape for one import-anchors record.
type anchorEntry struct {
	Address      string `json:"address"`
	PublicKeyHex string `json:"public_key_hex"`
	FriendlyName string `json:"friendly_name"`
}

func importAnchorsCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "import-anchors",
		Usage:     "validate and load a JSON file of hardcoded bootstrap nodes",
		ArgsUsage: "<anchors.json>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("import-anchors: an anchors.json argument is required", exitConfigError)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("import-anchors: %v", err), exitConfigError)
			}
			var entries []anchorEntry
			if err := json.Unmarshal(raw, &entries); err != nil {
				return cli.Exit(fmt.Sprintf("import-anchors: parse: %v", err), exitConfigError)
			}
			if len(entries) == 0 {
				return cli.Exit("import-anchors: anchors file contains no entries", exitConfigError)
			}

			nodes := make([]config.HardcodedNode, 0, len(entries))
			for _, e := range entries {
				if e.Address == "" {
					return cli.Exit("import-anchors: an entry is missing its address", exitConfigError)
				}
				keyBytes, err := hexDecode(e.PublicKeyHex)
				if err != nil {
					return cli.Exit(fmt.Sprintf("import-anchors: %s: decode public key: %v", e.Address, err), exitConfigError)
				}
				if _, err := pq.PublicKeyFromBytes(keyBytes); err != nil {
					return cli.Exit(fmt.Sprintf("import-anchors: %s: %v", e.Address, err), exitCryptoUnavailable)
				}
				nodes = append(nodes, config.HardcodedNode{
					Address:      e.Address,
					PublicKeyRaw: keyBytes,
					FriendlyName: e.FriendlyName,
				})
			}
			_, _ = fmt.Fprintf(stdout, "loaded %d hardcoded bootstrap node(s)\n", len(nodes))
			return nil
		},
	}
}

func banCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "ban",
		Usage:     "add an address to the persisted ban list",
		ArgsUsage: "<addr>",
		Flags:     []cli.Flag{dataDirFlag()},
		Action: func(c *cli.Context) error {
			return withBanStore(c, func(st *storage.Store, addr string) error {
				if err := st.PutBannedAddress(addr); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "banned %s\n", addr)
				return nil
			})
		},
	}
}

func unbanCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "unban",
		Usage:     "remove an address from the persisted ban list",
		ArgsUsage: "<addr>",
		Flags:     []cli.Flag{dataDirFlag()},
		Action: func(c *cli.Context) error {
			return withBanStore(c, func(st *storage.Store, addr string) error {
				if err := st.DeleteBannedAddress(addr); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "unbanned %s\n", addr)
				return nil
			})
		},
	}
}

func withBanStore(c *cli.Context, fn func(st *storage.Store, addr string) error) error {
	addr := c.Args().First()
	if addr == "" {
		return cli.Exit(fmt.Sprintf("%s: an addr argument is required", c.Command.Name), exitConfigError)
	}
	st, err := storage.Open(c.String("data-dir"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", c.Command.Name, err), exitStorageCorrupt)
	}
	defer st.Close()
	if err := fn(st, addr); err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", c.Command.Name, err), exitStorageCorrupt)
	}
	return nil
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
