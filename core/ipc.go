package core

// Control messages. By convention a task watches its control inbox and
// finishes on its own when one of these arrives.

// ProducerFinished announces that the sender has no more data.
type ProducerFinished struct {
	Sender  string
	Message any
}

// ShutdownMicroprocess asks the receiver to stop now.
type ShutdownMicroprocess struct {
	Reason string
}

// IsShutdownSignal reports whether msg asks the receiver to finish.
func IsShutdownSignal(msg any) bool {
	switch msg.(type) {
	case ProducerFinished, *ProducerFinished, ShutdownMicroprocess, *ShutdownMicroprocess:
		return true
	default:
		return false
	}
}

// CheckControl drains the control inbox and reports whether a shutdown
// signal was among the messages. The last signal seen is returned.
func CheckControl(t *Task) (any, bool) {
	var signal any
	for t.DataReady(BoxControl) {
		msg, err := t.Recv(BoxControl)
		if err != nil {
			break
		}
		if IsShutdownSignal(msg) {
			signal = msg
		}
	}
	return signal, signal != nil
}
