package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antirek/lsyncd/internal/target"
)

// defaultSSHConnectTimeoutSeconds bounds how long rsync's ssh transport waits
// to establish the connection (not the transfer itself, which has no
// timeout): a hung connection attempt shouldn't tie up a process slot
// forever.
const defaultSSHConnectTimeoutSeconds = 10

// SSHOptions configures the ssh transport an rsyncssh action's -e flag
// invokes rsync through.
type SSHOptions struct {
	// Port overrides the port implied by the target spec (e.g. when a
	// config file's "host" field carries no ":port" suffix but a separate
	// port setting is given).
	Port int
	// IdentityFile, if set, is passed as ssh's -i flag.
	IdentityFile string
	// ConnectTimeoutSeconds bounds connection setup; zero uses
	// defaultSSHConnectTimeoutSeconds.
	ConnectTimeoutSeconds int
	// ExtraArgs are appended verbatim after the built-in flags, for options
	// this type doesn't model directly (e.g. "-o StrictHostKeyChecking=no").
	ExtraArgs []string
}

func (o SSHOptions) timeoutArgument() string {
	timeout := o.ConnectTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultSSHConnectTimeoutSeconds
	}
	return fmt.Sprintf("-oConnectTimeout=%d", timeout)
}

// transportCommand renders the full "ssh ..." command line rsync's -e flag
// expects, folding in o.Port (falling back to the target's port) and any
// configured identity file. It intentionally omits ssh compression (-C):
// rsync already negotiates its own compression over the link, and stacking
// both wastes CPU for no bandwidth benefit.
func transportCommand(t *target.Target, o SSHOptions) string {
	args := []string{"ssh", o.timeoutArgument()}

	port := o.Port
	if port == 0 {
		port = int(t.Port)
	}
	if port != 0 {
		args = append(args, "-p", strconv.Itoa(port))
	}
	if o.IdentityFile != "" {
		args = append(args, "-i", o.IdentityFile)
	}
	args = append(args, o.ExtraArgs...)

	return strings.Join(args, " ")
}

// destination formats the rsync destination argument for dir on t, e.g.
// "user@host:/var/www/sub".
func destination(t *target.Target, dir string) string {
	host := t.Host
	if t.User != "" {
		host = fmt.Sprintf("%s@%s", t.User, host)
	}
	return fmt.Sprintf("%s:%s", host, dir)
}
