package delivery

import "testing"

func TestAdvanceForward(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{Queued, Sent},
		{Sent, Delivered},
		{Delivered, Read},
		{Queued, Failed},
		{Sent, Failed},
		{Delivered, Failed},
		// Skipped receipts are legal: the delivery receipt may be lost while
		// the read receipt arrives.
		{Queued, Read},
		{Sent, Read},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, outcome := Advance(tt.from, tt.to)
			if outcome != Applied {
				t.Fatalf("outcome = %v, want Applied", outcome)
			}
			if got != tt.to {
				t.Errorf("status = %s, want %s", got, tt.to)
			}
		})
	}
}

func TestAdvanceMonotonic(t *testing.T) {
	// Applying a lower-ranked status after a higher-ranked one leaves the
	// message unchanged.
	tests := []struct {
		current, incoming Status
	}{
		{Read, Delivered},
		{Read, Sent},
		{Delivered, Sent},
		{Sent, Queued},
	}
	for _, tt := range tests {
		t.Run(string(tt.current)+"<-"+string(tt.incoming), func(t *testing.T) {
			got, outcome := Advance(tt.current, tt.incoming)
			if outcome != Discarded {
				t.Fatalf("outcome = %v, want Discarded", outcome)
			}
			if got != tt.current {
				t.Errorf("status = %s, want %s (unchanged)", got, tt.current)
			}
		})
	}
}

func TestAdvanceDuplicate(t *testing.T) {
	got, outcome := Advance(Delivered, Delivered)
	if outcome != Discarded || got != Delivered {
		t.Errorf("duplicate receipt: got (%s, %v), want (delivered, Discarded)", got, outcome)
	}
}

func TestFailedIsTerminal(t *testing.T) {
	for _, incoming := range []Status{Sent, Delivered, Read} {
		got, outcome := Advance(Failed, incoming)
		if outcome != Correction {
			t.Errorf("failed->%s outcome = %v, want Correction", incoming, outcome)
		}
		if got != Failed {
			t.Errorf("failed->%s status = %s, want failed (unchanged)", incoming, got)
		}
	}
}

func TestFailureAfterReadIsCorrection(t *testing.T) {
	got, outcome := Advance(Read, Failed)
	if outcome != Correction || got != Read {
		t.Errorf("read->failed: got (%s, %v), want (read, Correction)", got, outcome)
	}
}

func TestTerminal(t *testing.T) {
	for s, want := range map[Status]bool{
		Queued: false, Sent: false, Delivered: false,
		Read: true, Failed: true,
	} {
		if Terminal(s) != want {
			t.Errorf("Terminal(%s) = %v, want %v", s, !want, want)
		}
	}
}

func TestKnown(t *testing.T) {
	for _, s := range []Status{Queued, Sent, Delivered, Read, Failed, Received} {
		if !Known(s) {
			t.Errorf("Known(%s) = false, want true", s)
		}
	}
	if Known("bogus") {
		t.Error("Known(bogus) = true, want false")
	}
}
