package streamdec

import "github.com/thesyncim/streamdec/internal/h264test"

var testPPS = h264test.PPS()

func testSPS(width, height int) []byte    { return h264test.SPS(width, height) }
func annexB(nalus ...[]byte) []byte       { return h264test.AnnexB(nalus...) }
func idrSlice(tag byte) []byte            { return h264test.IDRSlice(tag) }
func pSlice(tag byte) []byte              { return h264test.PSlice(tag) }
func nextPSlice(tag byte) []byte          { return h264test.NextPSlice(tag) }
func testHeader(width, height int) []byte { return h264test.Header(width, height) }
func testDeltaFrame(tag byte) []byte      { return h264test.DeltaFrame(tag) }

func testKeyframe(width, height int, tag byte) []byte {
	return h264test.Keyframe(width, height, tag)
}
