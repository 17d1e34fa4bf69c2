package i2c

// Each primitive below is atomic: it holds the guard for its whole duration
// and returns with SCL low (STOP: both lines released). Nothing is retried
// here.

// Start generates a START condition: SDA falls while SCL is high.
func (b *Bus) Start() error {
	g, err := b.acquire("start")
	if err != nil {
		return err
	}
	defer g.release()
	b.log.Debug("generating START condition")
	g.enter(StartAsserted)
	g.sda(true)
	g.scl(true)
	g.sda(false)
	g.scl(false)
	return g.result()
}

// Stop generates a STOP condition: SDA rises while SCL is high.
func (b *Bus) Stop() error {
	g, err := b.acquire("stop")
	if err != nil {
		return err
	}
	defer g.release()
	b.log.Debug("generating STOP condition")
	g.enter(StopAsserted)
	g.sda(false)
	g.scl(true)
	g.sda(true)
	return g.result()
}

// SendByte clocks v out MSB first and samples the acknowledge bit. A NACK
// is reported as a BusError wrapping ErrNACK.
func (b *Bus) SendByte(v byte) error {
	g, err := b.acquire("send byte")
	if err != nil {
		return err
	}
	defer g.release()
	g.enter(BitTransfer)
	for i := 7; i >= 0; i-- {
		g.sda(v>>uint(i)&1 == 1)
		g.scl(true)
		g.scl(false)
	}
	g.enter(AckPhase)
	g.sda(true)
	g.scl(true)
	nack := g.sample()
	g.scl(false)
	if err := g.result(); err != nil {
		return err
	}
	if nack {
		b.log.Debug("byte send failed, NACK received", "byte", hexByte(v))
		return wrapError(BusError, "send byte", ErrNACK, "byte %s", hexByte(v))
	}
	b.log.Debug("byte sent, ACK received", "byte", hexByte(v))
	return nil
}

// ReceiveByte clocks in one byte MSB first, then answers with ACK (SDA low)
// when ack is true or NACK otherwise.
func (b *Bus) ReceiveByte(ack bool) (byte, error) {
	g, err := b.acquire("receive byte")
	if err != nil {
		return 0, err
	}
	defer g.release()
	g.enter(BitTransfer)
	var v byte
	g.sdaNow(true)
	for i := 7; i >= 0; i-- {
		g.scl(true)
		if g.sample() {
			v |= 1 << uint(i)
		}
		g.scl(false)
	}
	g.enter(AckPhase)
	g.sda(!ack)
	g.scl(true)
	g.scl(false)
	g.sdaNow(true)
	b.log.Debug("byte received", "byte", hexByte(v), "ack", ack)
	return v, g.result()
}

// Levels samples both lines. An idle bus reads high on both.
func (b *Bus) Levels() (scl bool, sda bool, err error) {
	g, err := b.acquire("levels")
	if err != nil {
		return false, false, err
	}
	defer g.release()
	scl, err = b.lines.GetLevel(b.scl)
	if err != nil {
		return false, false, wrapError(BusError, "levels", err, "could not read SCL")
	}
	sda, err = b.lines.GetLevel(b.sda)
	if err != nil {
		return false, false, wrapError(BusError, "levels", err, "could not read SDA")
	}
	return scl, sda, nil
}
