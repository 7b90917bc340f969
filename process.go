//go:build linux || darwin

package ioloop

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// StdioType selects how one of the child's descriptors is provided.
type StdioType int

const (
	// StdioIgnore wires the slot to /dev/null.
	StdioIgnore StdioType = iota
	// StdioInheritFD duplicates an existing descriptor of this process
	// into the slot.
	StdioInheritFD
	// StdioCreatePipe creates a local socketpair: one end goes to the
	// child, the other is opened into the supplied [Pipe] handle.
	StdioCreatePipe
)

// StdioOption configures one child descriptor slot (0 = stdin, 1 =
// stdout, 2 = stderr, 3+ = extra channels).
type StdioOption struct {
	Type StdioType

	// Fd is the parent descriptor to inherit (StdioInheritFD).
	Fd int

	// Pipe receives the parent end of the channel (StdioCreatePipe). If
	// the pipe was created in IPC mode the channel passes descriptors.
	Pipe *Pipe

	// Readable/Writable describe the child's view of the channel.
	Readable bool
	Writable bool
}

// ExitCallback reports child termination: the exit status when the child
// exited normally, and the signal number that killed it otherwise.
type ExitCallback func(p *Process, exitStatus int64, termSignal int)

// ProcessOptions configures [SpawnProcess].
type ProcessOptions struct {
	// File is the executable; resolved via PATH when it contains no
	// separator.
	File string

	// Args is the full argv including argv[0]. Empty defaults to {File}.
	Args []string

	// Env is the child environment; nil inherits the parent's.
	Env []string

	// Cwd is the child working directory; empty inherits.
	Cwd string

	// Stdio configures child descriptors; missing slots 0–2 default to
	// StdioIgnore.
	Stdio []StdioOption

	// UID/GID switch credentials when non-nil (requires privilege).
	UID *uint32
	GID *uint32

	// Detached starts the child in its own session so it outlives the
	// parent's controlling terminal.
	Detached bool

	// KillOnExit asks the kernel to deliver SIGKILL to the child when
	// this process dies (Linux only; ignored elsewhere).
	KillOnExit bool

	// OnExit fires on the loop thread after the child is reaped.
	OnExit ExitCallback
}

// Process is the child-process handle. It stays active (keeping the loop
// alive) until the exit callback has fired.
type Process struct {
	Handle

	pid    int
	proc   *os.Process
	onExit ExitCallback
	exited bool
}

// SpawnProcess starts a child per opts and returns its handle. Spawn
// failures map to the usual errno space (ENOENT for a missing
// executable, EACCES for permission, EMFILE on descriptor exhaustion).
func SpawnProcess(l *Loop, opts *ProcessOptions) (*Process, error) {
	if opts == nil || opts.File == "" {
		return nil, EINVAL
	}

	path := opts.File
	if !strings.ContainsRune(path, os.PathSeparator) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return nil, ENOENT
			}
			return nil, Translate(err)
		}
		path = resolved
	}

	files, parentPipes, err := buildStdio(opts.Stdio)
	if err != nil {
		return nil, err
	}
	closeAll := func(fs []*os.File) {
		for _, f := range fs {
			if f != nil {
				_ = f.Close()
			}
		}
	}

	sys := &syscall.SysProcAttr{}
	if opts.Detached {
		sys.Setsid = true
	}
	if opts.UID != nil || opts.GID != nil {
		cred := &syscall.Credential{}
		if opts.UID != nil {
			cred.Uid = *opts.UID
		}
		if opts.GID != nil {
			cred.Gid = *opts.GID
		}
		sys.Credential = cred
	}
	if opts.KillOnExit {
		setKillOnExit(sys)
	}

	argv := opts.Args
	if len(argv) == 0 {
		argv = []string{opts.File}
	}

	proc, err := os.StartProcess(path, argv, &os.ProcAttr{
		Dir:   opts.Cwd,
		Env:   opts.Env,
		Files: files,
		Sys:   sys,
	})
	// The child's copies exist now (or the spawn failed); either way the
	// parent is done with the child-side descriptors.
	closeAll(files)
	if err != nil {
		for _, p := range parentPipes {
			_ = p.Close(nil)
		}
		return nil, Translate(err)
	}

	h := &Process{pid: proc.Pid, proc: proc, onExit: opts.OnExit}
	h.initHandle(l, KindProcess, nil, nil)
	h.setActive()
	logDebug("process", l.id, "spawned", nil, map[string]any{"pid": proc.Pid, "file": path})

	// Reap on a dedicated goroutine — wait(2) belongs to the Go runtime —
	// and marshal the result back like any other pool completion.
	go func() {
		state, werr := proc.Wait()
		l.postCompletion(func() {
			h.reaped(state, werr)
		})
	}()

	return h, nil
}

// buildStdio converts stdio options into the child descriptor table and
// collects the parent-side pipe handles opened along the way.
func buildStdio(stdio []StdioOption) ([]*os.File, []*Pipe, error) {
	n := len(stdio)
	if n < 3 {
		n = 3
	}
	files := make([]*os.File, n)
	var parents []*Pipe

	fail := func(err error) ([]*os.File, []*Pipe, error) {
		for _, f := range files {
			if f != nil {
				_ = f.Close()
			}
		}
		for _, p := range parents {
			_ = p.Close(nil)
		}
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		var opt StdioOption
		if i < len(stdio) {
			opt = stdio[i]
		}
		switch opt.Type {
		case StdioIgnore:
			f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
			if err != nil {
				return fail(Translate(err))
			}
			files[i] = f
		case StdioInheritFD:
			if opt.Fd < 0 {
				return fail(EINVAL)
			}
			// Dup so the table teardown after StartProcess cannot close
			// the caller's descriptor.
			dup, derr := syscall.Dup(opt.Fd)
			if derr != nil {
				return fail(Translate(derr))
			}
			files[i] = os.NewFile(uintptr(dup), "inherited")
		case StdioCreatePipe:
			if opt.Pipe == nil {
				return fail(EINVAL)
			}
			fds, err := newSocketpair()
			if err != nil {
				return fail(err)
			}
			if oerr := opt.Pipe.Open(fds[0]); oerr != nil {
				_ = closeFD(fds[0])
				_ = closeFD(fds[1])
				return fail(oerr)
			}
			// The parent writes what the child reads, and vice versa.
			if !opt.Readable {
				opt.Pipe.flags &^= flagWritable
			}
			if !opt.Writable {
				opt.Pipe.flags &^= flagReadable
			}
			parents = append(parents, opt.Pipe)
			// The child end must block: the child does not expect
			// O_NONBLOCK on its stdio.
			child := os.NewFile(uintptr(fds[1]), "pipe")
			if serr := syscall.SetNonblock(fds[1], false); serr != nil {
				_ = child.Close()
				return fail(Translate(serr))
			}
			files[i] = child
		default:
			return fail(EINVAL)
		}
	}
	return files, parents, nil
}

// reaped runs on the loop thread once the child is gone.
func (h *Process) reaped(state *os.ProcessState, werr error) {
	h.exited = true
	if h.IsClosing() {
		return // close won; exit callback suppressed
	}
	h.clearActive()

	var status int64
	var sig int
	if werr == nil && state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			if ws.Exited() {
				status = int64(ws.ExitStatus())
			}
			if ws.Signaled() {
				sig = int(ws.Signal())
			}
		}
	}
	logDebug("process", h.loop.id, "reaped", werr, map[string]any{"pid": h.pid, "status": status, "signal": sig})
	if h.onExit != nil {
		h.onExit(h, status, sig)
	}
}

// PID returns the child's process id.
func (h *Process) PID() int { return h.pid }

// Kill sends sig to the child.
func (h *Process) Kill(sig os.Signal) error {
	if h.proc == nil {
		return ESRCH
	}
	if err := h.proc.Signal(sig); err != nil {
		return Translate(err)
	}
	return nil
}

// Kill sends sig to an arbitrary pid, in the same errno space as the
// rest of the package.
func Kill(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(pid, sig); err != nil {
		return Translate(err)
	}
	return nil
}
