package predict

import "github.com/HimbeerserverDE/mohnet/game"

const (
	// CmdBackup is the number of usercmds kept for replay
	CmdBackup = 128
	CmdMask   = CmdBackup - 1
)

// An InputSource samples the local input for one frame. The returned
// command's ServerTime is filled in by the caller.
type InputSource interface {
	Sample(prev game.UserCmd) game.UserCmd
}

// InputFunc adapts a function to InputSource
type InputFunc func(prev game.UserCmd) game.UserCmd

func (f InputFunc) Sample(prev game.UserCmd) game.UserCmd { return f(prev) }

// CmdRing holds the most recently issued usercmds
type CmdRing struct {
	cmds [CmdBackup]game.UserCmd
	num  int32
}

// Reset forgets every command
func (r *CmdRing) Reset() { *r = CmdRing{} }

// Clear drops the stored commands but keeps counting
func (r *CmdRing) Clear() { r.cmds = [CmdBackup]game.UserCmd{} }

// Add stores cmd as the next command and returns its number
func (r *CmdRing) Add(cmd game.UserCmd) int32 {
	r.num++
	r.cmds[r.num&CmdMask] = cmd
	return r.num
}

// Current returns the number of the last stored command
func (r *CmdRing) Current() int32 { return r.num }

// Get returns command n if it has not been overwritten yet
func (r *CmdRing) Get(n int32) (game.UserCmd, bool) {
	if n <= 0 || n > r.num || r.num-n >= CmdBackup {
		return game.UserCmd{}, false
	}
	return r.cmds[n&CmdMask], true
}

// Latest returns the last stored command
func (r *CmdRing) Latest() game.UserCmd { return r.cmds[r.num&CmdMask] }
