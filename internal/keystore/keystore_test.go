package keystore

import (
	"os"
	"path/filepath"
	"testing"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	xerrors "OrchestratorSiphon/internal/errors"
)

func writeKeystore(t *testing.T, password string) (string, *gethkeystore.Key) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key := &gethkeystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}
	blob, err := gethkeystore.EncryptKey(key, password, gethkeystore.LightScryptN, gethkeystore.LightScryptP)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "orch.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
	return path, key
}

func TestLoadWithLiteralPassword(t *testing.T) {
	path, key := writeKeystore(t, "hunter2")
	cred, err := Load(Options{Label: "orch", Path: path, Password: "hunter2", Expected: key.Address.Hex()})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cred.Address() != key.Address || !cred.Valid() {
		t.Fatalf("unexpected credential %s", cred)
	}
}

func TestLoadWithPasswordFile(t *testing.T) {
	path, key := writeKeystore(t, "from-file")
	pwFile := filepath.Join(t.TempDir(), "password.txt")
	if err := os.WriteFile(pwFile, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write password: %v", err)
	}
	cred, err := Load(Options{Path: path, Password: pwFile})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cred.Address() != key.Address {
		t.Fatal("unexpected address")
	}
}

func TestLoadPromptsWhenPasswordEmpty(t *testing.T) {
	path, _ := writeKeystore(t, "prompted")
	var asked string
	_, err := Load(Options{Label: "orch-a", Path: path, Prompt: func(label string) (string, error) {
		asked = label
		return "prompted", nil
	}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if asked != "orch-a" {
		t.Fatalf("prompt label %q", asked)
	}
}

func TestLoadFailuresAreConfigFailures(t *testing.T) {
	path, _ := writeKeystore(t, "right")
	cases := map[string]Options{
		"wrong password":   {Path: path, Password: "wrong"},
		"missing file":     {Path: filepath.Join(t.TempDir(), "nope.json"), Password: "right"},
		"address mismatch": {Path: path, Password: "right", Expected: "0x0000000000000000000000000000000000000001"},
	}
	for name, opts := range cases {
		if _, err := Load(opts); !xerrors.Is(err, xerrors.CodeConfigFailure) {
			t.Fatalf("%s: expected config failure, got %v", name, err)
		}
	}
}
