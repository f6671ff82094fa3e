package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestRoomSettingsInput_Resolve(t *testing.T) {
	defaults := RoomDefaults{MaxPeers: 10, Lifetime: 60 * time.Second}

	tests := []struct {
		name    string
		input   RoomSettingsInput
		want    RoomSettings
		wantErr error
	}{
		{
			name:  "defaults applied",
			input: RoomSettingsInput{Name: "lobby-1"},
			want:  RoomSettings{Name: "lobby-1", MaxPeers: 10, Lifetime: 60 * time.Second},
		},
		{
			name:  "explicit values",
			input: RoomSettingsInput{Name: "A", MaxPeers: intPtr(1), Lifetime: intPtr(1)},
			want:  RoomSettings{Name: "A", MaxPeers: 1, Lifetime: time.Second},
		},
		{name: "empty name", input: RoomSettingsInput{}, wantErr: ErrInvalidName},
		{name: "bad characters", input: RoomSettingsInput{Name: "room_1"}, wantErr: ErrNameCharacters},
		{name: "space in name", input: RoomSettingsInput{Name: "my room"}, wantErr: ErrNameCharacters},
		{name: "zero peers", input: RoomSettingsInput{Name: "r", MaxPeers: intPtr(0)}, wantErr: ErrMaxPeersRange},
		{name: "eleven peers", input: RoomSettingsInput{Name: "r", MaxPeers: intPtr(11)}, wantErr: ErrMaxPeersRange},
		{name: "zero lifetime", input: RoomSettingsInput{Name: "r", Lifetime: intPtr(0)}, wantErr: ErrLifetimeRange},
		{name: "lifetime too long", input: RoomSettingsInput{Name: "r", Lifetime: intPtr(61)}, wantErr: ErrLifetimeRange},
		{name: "lifetime wrapping int64 nanoseconds", input: RoomSettingsInput{Name: "r", Lifetime: intPtr(18446744075)}, wantErr: ErrLifetimeRange},
		{name: "max int lifetime", input: RoomSettingsInput{Name: "r", Lifetime: intPtr(math.MaxInt)}, wantErr: ErrLifetimeRange},
		{name: "negative lifetime", input: RoomSettingsInput{Name: "r", Lifetime: intPtr(-1)}, wantErr: ErrLifetimeRange},
		{name: "min int lifetime", input: RoomSettingsInput{Name: "r", Lifetime: intPtr(math.MinInt)}, wantErr: ErrLifetimeRange},
		{name: "bad name wins over bad lifetime", input: RoomSettingsInput{Name: "a b", Lifetime: intPtr(18446744075)}, wantErr: ErrNameCharacters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.input.Resolve(defaults)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsKind(err, KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRoomQuery(t *testing.T) {
	in, err := ParseRoomQuery("r", "3", "20")
	require.NoError(t, err)
	assert.Equal(t, 3, *in.MaxPeers)
	assert.Equal(t, 20, *in.Lifetime)

	in, err = ParseRoomQuery("r", "", "")
	require.NoError(t, err)
	assert.Nil(t, in.MaxPeers)
	assert.Nil(t, in.Lifetime)

	_, err = ParseRoomQuery("r", "many", "")
	assert.ErrorIs(t, err, ErrInvalidMaxPeers)

	_, err = ParseRoomQuery("r", "", "1.5")
	assert.ErrorIs(t, err, ErrInvalidLifetime)

	in, err = ParseRoomQuery("r", "", "18446744075")
	require.NoError(t, err)
	_, err = in.Resolve(RoomDefaults{MaxPeers: 10, Lifetime: time.Minute})
	assert.ErrorIs(t, err, ErrLifetimeRange)
}

func TestDecodeInbound(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"create-room","settings":{"name":"A","maxPeers":2}}`))
	require.NoError(t, err)
	create, ok := msg.(*CreateRoomMessage)
	require.True(t, ok)
	assert.Equal(t, "A", create.Settings.Name)
	assert.Equal(t, 2, *create.Settings.MaxPeers)
	assert.Nil(t, create.Settings.Lifetime)

	msg, err = DecodeInbound([]byte(`{"type":"join","room":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, "A", msg.(*JoinMessage).Room)

	msg, err = DecodeInbound([]byte(`{"type":"list"}`))
	require.NoError(t, err)
	assert.IsType(t, &ListMessage{}, msg)

	msg, err = DecodeInbound([]byte(`{"type":"leave"}`))
	require.NoError(t, err)
	assert.IsType(t, &LeaveMessage{}, msg)

	msg, err = DecodeInbound([]byte(`{"type":"data","data":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeData, msg.Type())
}

func TestDecodeInbound_Invalid(t *testing.T) {
	frames := []string{
		`not json`,
		`[]`,
		`{}`,
		`{"type":42}`,
		`{"type":"teleport"}`,
		`{"type":"join","room":7}`,
	}
	for _, frame := range frames {
		_, err := DecodeInbound([]byte(frame))
		assert.ErrorIs(t, err, ErrInvalidMessage, frame)
		assert.True(t, IsKind(err, KindRequest), frame)
	}
}

func TestDataMessage_DataEvent(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"data","sender":"spoofed","data":{"x":1},"extra":true}`))
	require.NoError(t, err)

	out, err := json.Marshal(msg.(*DataMessage).DataEvent("alice-1"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "data", decoded["type"])
	assert.Equal(t, "alice-1", decoded["sender"])
	assert.Equal(t, true, decoded["extra"])
	assert.Equal(t, map[string]any{"x": float64(1)}, decoded["data"])
}

func TestAPIKey_IsLive(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	invalidated := now.UnixMilli() - 1

	assert.True(t, (&APIKey{ExpiresAt: now.UnixMilli() + 1}).IsLive(now))
	assert.False(t, (&APIKey{ExpiresAt: now.UnixMilli()}).IsLive(now))
	assert.False(t, (&APIKey{ExpiresAt: now.UnixMilli() + 1, InvalidatedAt: &invalidated}).IsLive(now))
}

func TestErrorKinds(t *testing.T) {
	assert.True(t, IsClientError(ErrRoomFull))
	assert.False(t, IsClientError(ErrNotFound))
	assert.True(t, IsKind(ErrInvalidAPIKey, KindAuthentication))
	assert.False(t, IsKind(ErrInvalidAPIKey, KindRequest))
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, `{"type":"list","peers":[]}`, mustJSON(t, NewListEvent(nil)))
	assert.Equal(t, `{"type":"error","error":"Room not found"}`, mustJSON(t, NewErrorEvent(ErrRoomNotFound)))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
