// Package audio captures microphone input and cuts it into fixed-size PCM frames
// for streaming to the live session.
package audio

// Device is a mono 16-bit PCM capture source.
//
// Start begins delivering samples to onData from the device's own thread.
// onStop is invoked if the device stops without Close being called (unplugged,
// permission revoked). Close releases the device and may be called once Start
// has returned, whether or not it succeeded.
type Device interface {
	Start(onData func(pcm []byte), onStop func(err error)) error
	SampleRate() int
	Close() error
}
