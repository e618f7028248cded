// Command cryptofs-mount mounts an encrypted filesystem at a real
// mountpoint via FUSE. Flags use a flat top-level github.com/spf13/pflag
// set rather than a cobra command tree, since this binary has one flat
// flag set; logging follows every other boundary in this module in
// using sirupsen/logrus.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/absfs/memfs"
	"github.com/cryptofs/cryptofs"
	"github.com/cryptofs/cryptofs/internal/blockstore"
	"github.com/cryptofs/cryptofs/internal/fusebridge"
	"github.com/cryptofs/cryptofs/internal/seal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	var (
		mountpoint = pflag.StringP("mountpoint", "m", "", "directory to mount the filesystem at (required)")
		cipherName = pflag.String("cipher", "aes256-gcm", "cipher suite: aes256-gcm or chacha20-poly1305")
		kdfName    = pflag.String("kdf", "argon2id", "key derivation function: argon2id or pbkdf2")
		readOnly   = pflag.Bool("read-only", false, "mount read-only")
		allowOther = pflag.Bool("allow-other", false, "allow other users to access the mount")
		verbose    = pflag.BoolP("verbose", "v", false, "enable debug logging")
		passphrase = pflag.String("passphrase", "", "passphrase (prompted interactively if omitted)")
	)
	pflag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	if *mountpoint == "" {
		fmt.Fprintln(os.Stderr, "cryptofs-mount: --mountpoint is required")
		os.Exit(2)
	}

	if err := run(*mountpoint, *cipherName, *kdfName, *passphrase, *readOnly, *allowOther, entry); err != nil {
		entry.WithError(err).Fatal("cryptofs-mount failed")
	}
}

func run(mountpoint, cipherName, kdfName, passphrase string, readOnly, allowOther bool, log *logrus.Entry) error {
	cipher, err := parseCipher(cipherName)
	if err != nil {
		return err
	}

	if passphrase == "" {
		passphrase, err = promptPassphrase()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
	}
	keyProvider, err := buildKeyProvider(kdfName, []byte(passphrase))
	if err != nil {
		return err
	}

	// memfs stands in for the backing absfs.FileSystem here; a
	// disk-backed deployment would swap this for another
	// absfs.FileSystem implementation without touching anything above
	// blockstore.New.
	memFS, err := memfs.NewFS()
	if err != nil {
		return fmt.Errorf("creating memfs backing store: %w", err)
	}
	storage := cryptofs.NewBlockstoreStorage(blockstore.New(memFS))

	cfg := &cryptofs.Config{
		Cipher:      cipher,
		KeyProvider: keyProvider,
		ReadOnly:    readOnly,
	}
	table, err := ensureRoot(storage, cfg)
	if err != nil {
		return err
	}

	ops := cryptofs.NewOperations(table, cryptofs.RootID, log)

	server, err := fusebridge.Mount(fusebridge.Options{
		Mountpoint: mountpoint,
		Ops:        ops,
		AllowOther: allowOther,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("mounting at %s: %w", mountpoint, err)
	}

	log.WithField("mountpoint", mountpoint).Info("cryptofs mounted")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("unmounting")
	return server.Unmount()
}

func parseCipher(name string) (seal.CipherSuite, error) {
	switch name {
	case "aes256-gcm", "":
		return seal.AES256GCM, nil
	case "chacha20-poly1305":
		return seal.ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unknown cipher %q", name)
	}
}

func buildKeyProvider(kdfName string, passphrase []byte) (seal.KeyProvider, error) {
	switch kdfName {
	case "argon2id", "":
		return seal.NewArgon2idKeyProvider(passphrase, seal.Argon2idParams{}), nil
	case "pbkdf2":
		return seal.NewPBKDF2KeyProvider(passphrase, seal.PBKDF2Params{}), nil
	default:
		return nil, fmt.Errorf("unknown key derivation function %q", kdfName)
	}
}

// ensureRoot builds the file table and, on a brand new backing store,
// mints the root directory inode.
func ensureRoot(storage cryptofs.Storage, cfg *cryptofs.Config) (*cryptofs.FileTable, error) {
	table, err := cryptofs.NewFileTable(storage, cfg)
	if err != nil {
		return nil, err
	}
	root, err := table.OpenAs(cryptofs.RootID, cryptofs.DirectoryType)
	if err != nil {
		root, err = table.CreateAs(cryptofs.RootID, cryptofs.DirectoryType)
		if err != nil {
			return nil, fmt.Errorf("initializing root directory: %w", err)
		}
	}
	if err := table.Close(root); err != nil {
		return nil, err
	}
	return table, nil
}

// promptPassphrase reads a passphrase from stdin without adding a
// terminal dependency; a real deployment would prefer golang.org/x/term
// for a no-echo prompt.
func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}
