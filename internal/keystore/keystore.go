// Package keystore decrypts the orchestrator signing keys.
package keystore

import (
	"fmt"
	"os"
	"strings"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/web3"
)

// PromptFunc 在密码为空时向操作者索取密码。
type PromptFunc func(label string) (string, error)

// TerminalPrompt 仅在 stdin 为终端时可用，否则返回错误。
func TerminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin 不是终端，无法输入 %s 的密码", label)
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(raw), nil
}

// Options 描述一个待解密的 keystore。
type Options struct {
	Label    string
	Path     string
	Password string
	// Expected 非空时必须与解密出的地址一致。
	Expected string
	Prompt   PromptFunc
}

// Load 解密 keystore 文件。Password 指向已存在的文件时读取该文件内容（去掉末尾换行）。
func Load(opts Options) (web3.Credential, error) {
	fail := func(err error, msg string) (web3.Credential, error) {
		return web3.Credential{}, xerrors.Wrap(xerrors.CodeConfigFailure, err, msg,
			xerrors.WithMetadata("account", opts.Label))
	}

	content, err := os.ReadFile(opts.Path)
	if err != nil {
		return fail(err, "读取 keystore 失败")
	}

	password, err := resolvePassword(opts)
	if err != nil {
		return fail(err, "获取 keystore 密码失败")
	}

	key, err := gethkeystore.DecryptKey(content, password)
	if err != nil {
		return fail(err, "解密 keystore 失败")
	}

	cred := web3.NewCredential(key.PrivateKey)
	if expected := strings.TrimSpace(opts.Expected); expected != "" {
		if !common.IsHexAddress(expected) || common.HexToAddress(expected) != cred.Address() {
			return fail(fmt.Errorf("keystore 地址 %s 与配置地址 %s 不一致", cred.Address().Hex(), expected), "账户地址不匹配")
		}
	}
	return cred, nil
}

func resolvePassword(opts Options) (string, error) {
	password := opts.Password
	if password != "" {
		if info, err := os.Stat(password); err == nil && !info.IsDir() {
			raw, err := os.ReadFile(password)
			if err != nil {
				return "", err
			}
			return strings.TrimRight(string(raw), "\r\n"), nil
		}
		return password, nil
	}
	if opts.Prompt == nil {
		return "", nil
	}
	label := opts.Label
	if label == "" {
		label = opts.Path
	}
	return opts.Prompt(label)
}
