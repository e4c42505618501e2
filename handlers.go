package mohnet

import "time"

type handlers struct {
	stateChange   []func(c *Conn, from, to State)
	disconnect    []func(c *Conn, reason string)
	timeout       []func(c *Conn, silence time.Duration)
	err           []func(c *Conn, err error)
	gamestate     []func(c *Conn, gs *Gamestate)
	configString  []func(c *Conn, index int, s string)
	serverCommand []func(c *Conn, args []string)
	print         []func(c *Conn, s string)
	centerprint   []func(c *Conn, s string)
	locprint      []func(c *Conn, x, y int, s string)
	cgame         []func(c *Conn, cm *CGameMessage)
	download      []func(c *Conn, b *DownloadBlock)
}

// RegisterOnStateChange registers a callback function that is called
// whenever the connection state changes
func (c *Conn) RegisterOnStateChange(fn func(c *Conn, from, to State)) {
	c.handlers.stateChange = append(c.handlers.stateChange, fn)
}

// RegisterOnDisconnect registers a callback function that is called
// when the server ends the connection
func (c *Conn) RegisterOnDisconnect(fn func(c *Conn, reason string)) {
	c.handlers.disconnect = append(c.handlers.disconnect, fn)
}

// RegisterOnTimeout registers a callback function that is called
// when the connection is dropped because the server went silent
func (c *Conn) RegisterOnTimeout(fn func(c *Conn, silence time.Duration)) {
	c.handlers.timeout = append(c.handlers.timeout, fn)
}

// RegisterOnError registers a callback function that is called for
// every error, recoverable or not
func (c *Conn) RegisterOnError(fn func(c *Conn, err error)) {
	c.handlers.err = append(c.handlers.err, fn)
}

// RegisterOnGamestate registers a callback function that is called
// when a new gamestate has been parsed
func (c *Conn) RegisterOnGamestate(fn func(c *Conn, gs *Gamestate)) {
	c.handlers.gamestate = append(c.handlers.gamestate, fn)
}

// RegisterOnConfigString registers a callback function that is called
// when a configstring changes after the gamestate
func (c *Conn) RegisterOnConfigString(fn func(c *Conn, index int, s string)) {
	c.handlers.configString = append(c.handlers.configString, fn)
}

// RegisterOnServerCommand registers a callback function that is called
// for every server command the connection does not handle itself
func (c *Conn) RegisterOnServerCommand(fn func(c *Conn, args []string)) {
	c.handlers.serverCommand = append(c.handlers.serverCommand, fn)
}

// RegisterOnPrint registers a callback function that is called for
// console text from the server
func (c *Conn) RegisterOnPrint(fn func(c *Conn, s string)) {
	c.handlers.print = append(c.handlers.print, fn)
}

// RegisterOnCenterprint registers a callback function that is called
// for text shown in the middle of the screen
func (c *Conn) RegisterOnCenterprint(fn func(c *Conn, s string)) {
	c.handlers.centerprint = append(c.handlers.centerprint, fn)
}

// RegisterOnLocprint registers a callback function that is called
// for text shown at a screen position
func (c *Conn) RegisterOnLocprint(fn func(c *Conn, x, y int, s string)) {
	c.handlers.locprint = append(c.handlers.locprint, fn)
}

// RegisterOnCGameMessage registers a callback function that is called
// for every decoded game effect message
func (c *Conn) RegisterOnCGameMessage(fn func(c *Conn, cm *CGameMessage)) {
	c.handlers.cgame = append(c.handlers.cgame, fn)
}

// RegisterOnDownload registers a callback function that is called for
// every received download block
func (c *Conn) RegisterOnDownload(fn func(c *Conn, b *DownloadBlock)) {
	c.handlers.download = append(c.handlers.download, fn)
}
