package api_test

import (
	"testing"

	"github.com/momentics/hioload-link/api"
)

func TestLinkInfoRoundTrip(t *testing.T) {
	in := api.LinkInfo{
		NumQueues: 2,
		Queues: []api.QueueInfo{
			{NumChannels: 1, Channels: []api.ChannelInfo{{
				Width: 1920, Height: 1080, Pitch: [3]int{1920, 1920},
				Format: api.FormatYUV420SP, Kind: api.KindVideoFrame, Flags: 0xdeadbeef,
			}}},
			{NumChannels: 0, Channels: []api.ChannelInfo{}},
		},
	}
	b, err := api.EncodeLinkInfo(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := api.DecodeLinkInfo(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.NumQueues != 2 || out.Queues[0].Channels[0] != in.Queues[0].Channels[0] || out.Queues[1].NumChannels != 0 {
		t.Errorf("round trip %+v", out)
	}
	if api.MaxLinkInfoSize > api.MaxMsgSize {
		t.Errorf("largest link info %d exceeds message size", api.MaxLinkInfoSize)
	}
}

func TestLinkInfoRejects(t *testing.T) {
	bad := []api.LinkInfo{
		{NumQueues: 1},
		{NumQueues: api.MaxQueues + 1, Queues: make([]api.QueueInfo, api.MaxQueues+1)},
		{NumQueues: 1, Queues: []api.QueueInfo{{NumChannels: 2, Channels: make([]api.ChannelInfo, 1)}}},
		{NumQueues: 1, Queues: []api.QueueInfo{{NumChannels: 1, Channels: []api.ChannelInfo{{Width: 1 << 16}}}}},
		{NumQueues: 1, Queues: []api.QueueInfo{{NumChannels: 1, Channels: []api.ChannelInfo{{Width: 8, Pitch: [3]int{-1}}}}}},
	}
	for i, info := range bad {
		if _, err := api.EncodeLinkInfo(info); !api.HasCode(err, api.ErrCodeInvalidParams) {
			t.Errorf("case %d: %v", i, err)
		}
	}

	good, _ := api.EncodeLinkInfo(api.LinkInfo{NumQueues: 1, Queues: []api.QueueInfo{{NumChannels: 1, Channels: make([]api.ChannelInfo, 1)}}})
	for _, b := range [][]byte{nil, good[:len(good)-1], append(good, 0), {api.MaxQueues + 1}} {
		if _, err := api.DecodeLinkInfo(b); !api.HasCode(err, api.ErrCodeInvalidParams) {
			t.Errorf("decode %x: %v", b, err)
		}
	}
}
