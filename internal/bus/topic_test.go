package bus

import (
	"errors"
	"testing"
)

func TestTopic_String(t *testing.T) {
	got := Request(EventSubscribe, "c1").String()
	if got != "brokerSubscribe/c1/req" {
		t.Errorf("String() = %q, want %q", got, "brokerSubscribe/c1/req")
	}
}

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		name    string
		pattern Topic
		topic   Topic
		want    bool
	}{
		{
			name:    "exact match",
			pattern: Request(EventConnect, "c1"),
			topic:   Request(EventConnect, "c1"),
			want:    true,
		},
		{
			name:    "wildcard session key",
			pattern: Request(EventConnect, Wildcard),
			topic:   Request(EventConnect, "anything"),
			want:    true,
		},
		{
			name:    "different session key",
			pattern: Request(EventConnect, "c1"),
			topic:   Request(EventConnect, "c2"),
			want:    false,
		},
		{
			name:    "different kind",
			pattern: Request(EventConnect, Wildcard),
			topic:   Response(EventConnect, "c1"),
			want:    false,
		},
		{
			name:    "different event",
			pattern: Call(EventDisconnect, "c1"),
			topic:   Call(EventConnect, "c1"),
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pattern.Matches(tt.topic); got != tt.want {
				t.Errorf("%s.Matches(%s) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopic_Validate(t *testing.T) {
	tests := []struct {
		name    string
		topic   Topic
		wantErr bool
	}{
		{name: "valid request", topic: Request(EventSubscribe, "c1")},
		{name: "valid call", topic: Call(EventDisconnect, "c1")},
		{name: "empty event", topic: Topic{SessionKey: "c1", Kind: KindRequest}, wantErr: true},
		{name: "empty session", topic: Topic{Event: EventConnect, Kind: KindRequest}, wantErr: true},
		{name: "wildcard session", topic: Request(EventConnect, Wildcard), wantErr: true},
		{name: "unknown kind", topic: Topic{Event: EventConnect, SessionKey: "c1", Kind: "push"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.topic.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("Validate() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}
