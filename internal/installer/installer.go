// Package installer checks for and performs the privileged one-time install of
// the bundled engines.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	cp "github.com/otiai10/copy"

	"github.com/darkware/zapretd/pkg/consts"
	zerr "github.com/darkware/zapretd/pkg/errors"
	"github.com/darkware/zapretd/pkg/logger"
)

// stageOptions keeps the bundle's symlinks as links and its file modes as is.
var stageOptions = cp.Options{
	OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow },
	Sync:      true,
}

// Runner executes a shell command line.
type Runner interface {
	Run(ctx context.Context, command string) (int, string, error)
}

// Installer knows where the engines live and how to put them there.
type Installer struct {
	dir     string
	sudoers string
	runner  Runner
	timeout time.Duration
	tempDir string
	log     logger.Logger
}

// New creates an Installer for installDir, gated on sudoersFile.
func New(runner Runner, installDir, sudoersFile string, timeout time.Duration) *Installer {
	if timeout <= 0 {
		timeout = consts.DefaultInstallTimeout
	}
	return &Installer{
		dir:     installDir,
		sudoers: sudoersFile,
		runner:  runner,
		timeout: timeout,
		tempDir: os.TempDir(),
		log:     logger.Log.With("component", "installer"),
	}
}

// Dir returns the install directory.
func (i *Installer) Dir() string { return i.dir }

// IsInstalled reports whether both the install directory and the sudoers
// drop-in exist. Without the latter the init script would prompt for a password.
func (i *Installer) IsInstalled() bool {
	return exists(i.dir) && exists(i.sudoers)
}

// Install stages resourcesDir/zapret and the install script in a scratch
// directory and runs the script with administrator privileges.
func (i *Installer) Install(ctx context.Context, resourcesDir string) error {
	const op = "Install"

	stage := filepath.Join(i.tempDir, "darkware_installer_temp")
	if err := os.RemoveAll(stage); err != nil {
		return zerr.New(zerr.ErrCodeLaunchFailed, op, "cannot clean staging dir", err)
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return zerr.New(zerr.ErrCodeLaunchFailed, op, "cannot create staging dir", err)
	}

	if err := cp.Copy(filepath.Join(resourcesDir, "zapret"), filepath.Join(stage, "zapret"), stageOptions); err != nil {
		return zerr.New(zerr.ErrCodeLaunchFailed, op, "cannot stage zapret", err)
	}
	script := filepath.Join(stage, consts.InstallScriptName)
	if err := cp.Copy(filepath.Join(resourcesDir, consts.InstallScriptName), script, stageOptions); err != nil {
		return zerr.New(zerr.ErrCodeLaunchFailed, op, "cannot stage install script", err)
	}
	if err := os.Chmod(script, 0o755); err != nil {
		return zerr.New(zerr.ErrCodeLaunchFailed, op, "cannot stage install script", err)
	}

	i.log.Info("Running installer", "script", script)
	if err := i.runPrivileged(ctx, op, script); err != nil {
		return err
	}
	if !i.IsInstalled() {
		return zerr.New(zerr.ErrCodeNotInstalled, op, "installer finished but "+i.dir+" is incomplete", nil)
	}
	i.log.Info("Engines installed", "dir", i.dir)
	return nil
}

// Uninstall runs the uninstall script shipped inside the install directory.
func (i *Installer) Uninstall(ctx context.Context) error {
	const op = "Uninstall"

	script := filepath.Join(i.dir, consts.UninstallScriptName)
	if !exists(script) {
		return zerr.New(zerr.ErrCodeNotInstalled, op, "no uninstall script at "+script, nil)
	}
	i.log.Info("Running uninstaller", "script", script)
	return i.runPrivileged(ctx, op, script)
}

func (i *Installer) runPrivileged(ctx context.Context, op, script string) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	code, out, err := i.runner.Run(ctx, PrivilegedCommand(script))
	if err != nil {
		return err
	}
	if code != 0 {
		msg := strings.TrimSpace(out)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", code)
		}
		return zerr.New(zerr.ErrCodeCommandFailed, op, msg, nil)
	}
	return nil
}

// PrivilegedCommand returns a shell command line that runs script as root
// through the macOS authorization prompt.
func PrivilegedCommand(script string) string {
	apple := fmt.Sprintf(`do shell script "%s" with administrator privileges`,
		appleEscape(shellquote.Join(script)))
	return shellquote.Join("osascript", "-e", apple)
}

func appleEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Personal.AI order the ending
