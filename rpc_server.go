package pci9118

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// AcquisitionControl is the sub-server that handles configuration and
// operation of one attached card over JSON-RPC.
type AcquisitionControl struct {
	session *Session
}

// ServerStatus is the status AcquisitionControl reports to clients.
type ServerStatus struct {
	Running bool
	Board   string
	Mode    string
	RunID   string
	Scans   uint32
}

// Status fills in the current server state.
func (ac *AcquisitionControl) Status(dummy *string, reply *ServerStatus) error {
	d := ac.session
	d.mu.Lock()
	defer d.mu.Unlock()
	reply.Running = d.mode != ModeNone
	reply.Board = d.board.Name
	reply.Mode = d.mode.String()
	reply.Scans = d.actScan
	if d.run != nil {
		reply.RunID = d.run.ID.String()
	}
	return nil
}

// Start validates and starts a streamed acquisition. The command comes
// back to the caller with its arguments corrected to what the hardware
// realizes.
func (ac *AcquisitionControl) Start(cmd *AcqCommand, reply *AcqCommand) error {
	log.Printf("Start: %d chan, convert %d ns, stop after %d scans\n",
		len(cmd.Chanlist), cmd.ConvertArg, cmd.StopArg)
	if err := ac.session.StartAcquisition(cmd); err != nil {
		return err
	}
	*reply = *cmd
	return nil
}

// Stop cancels a running acquisition.
func (ac *AcquisitionControl) Stop(dummy *string, reply *bool) error {
	err := ac.session.Cancel()
	*reply = err == nil
	return err
}

// Trigger releases a run armed with a deferred internal start.
func (ac *AcquisitionControl) Trigger(trigNum *uint32, reply *bool) error {
	err := ac.session.InternalTrigger(*trigNum)
	*reply = err == nil
	return err
}

// ReadAI performs a single software-triggered conversion.
func (ac *AcquisitionControl) ReadAI(cs *ChanSpec, reply *uint16) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := ac.session.ReadAIOnce(ctx, *cs)
	*reply = v
	return err
}

// AOValue addresses one analog output channel for WriteAO.
type AOValue struct {
	Channel int
	Value   uint16
}

// WriteAO sets one analog output.
func (ac *AcquisitionControl) WriteAO(arg *AOValue, reply *bool) error {
	err := ac.session.WriteAO(arg.Channel, arg.Value)
	*reply = err == nil
	return err
}

// ReadDI returns the digital input lines.
func (ac *AcquisitionControl) ReadDI(dummy *string, reply *uint32) error {
	v, err := ac.session.ReadDI()
	*reply = v
	return err
}

// WriteDO drives the digital output lines.
func (ac *AcquisitionControl) WriteDO(state *uint32, reply *bool) error {
	err := ac.session.WriteDO(*state)
	*reply = err == nil
	return err
}

// RunRPCServer serves JSON-RPC control of the session until the
// listener fails. Each connection gets its own codec goroutine.
func RunRPCServer(session *Session, portrpc int) {
	control := &AcquisitionControl{session: session}

	server := rpc.NewServer()
	server.Register(control)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		log.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			log.Fatal("accept error: " + err.Error())
		} else {
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
