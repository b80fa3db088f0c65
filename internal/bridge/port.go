package bridge

import "context"

// Port is one end of the page/background channel
type Port interface {
	// Send delivers m to the other side. It blocks until the message is
	// accepted or ctx is done.
	Send(ctx context.Context, m Message) error
	// Receive returns the stream of messages from the other side
	Receive() <-chan Message
}

type pipePort struct {
	in  <-chan Message
	out chan<- Message
}

// NewPipe returns two connected in-process ports. Messages sent on one are
// received on the other in send order.
func NewPipe(buffer int) (page, background Port) {
	toBackground := make(chan Message, buffer)
	toPage := make(chan Message, buffer)
	return &pipePort{in: toPage, out: toBackground}, &pipePort{in: toBackground, out: toPage}
}

func (p *pipePort) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	select {
	case p.out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipePort) Receive() <-chan Message {
	return p.in
}
