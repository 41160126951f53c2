package netlink

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

type fakeRadio struct {
	starts    int
	startErrs []error
	joinErrs  []error
	addrErrs  []error
	joins     []string
	addr      netip.Addr
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (r *fakeRadio) Start() error {
	r.starts++
	return pop(&r.startErrs)
}

func (r *fakeRadio) Join(ssid, pass string) error {
	r.joins = append(r.joins, ssid+"/"+pass)
	return pop(&r.joinErrs)
}

func (r *fakeRadio) ConfigureAddress() (netip.Addr, error) {
	if err := pop(&r.addrErrs); err != nil {
		return netip.Addr{}, err
	}
	return r.addr, nil
}

func newTestSupervisor(r Radio, dead int) (*Supervisor, *[]time.Duration) {
	var slept []time.Duration
	s := New(r, Config{SSID: "home", Password: "pw", RetryDelay: 5 * time.Second, DeadCycles: dead})
	s.sleep = func(d time.Duration) { slept = append(slept, d) }
	return s, &slept
}

func isClosed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func TestHappyPath(t *testing.T) {
	r := &fakeRadio{addr: netip.MustParseAddr("192.168.1.50")}
	s, slept := newTestSupervisor(r, 0)

	want := []State{Associating, Connected, LinkUp}
	for _, st := range want {
		s.step()
		if s.State() != st {
			t.Fatalf("state = %v, want %v", s.State(), st)
		}
	}
	if !isClosed(s.Up()) {
		t.Error("Up channel should be closed")
	}
	if got := s.WaitLinkUp(); got != r.addr {
		t.Errorf("WaitLinkUp = %v", got)
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected sleeps %v", *slept)
	}
	if r.starts != 1 || len(r.joins) != 1 || r.joins[0] != "home/pw" {
		t.Errorf("radio calls: starts=%d joins=%v", r.starts, r.joins)
	}

	for _, st := range want {
		select {
		case got := <-s.States():
			if got != st {
				t.Errorf("transition %v, want %v", got, st)
			}
		default:
			t.Errorf("missing transition %v", st)
		}
	}
}

func TestJoinFailureRetriesWithFixedDelay(t *testing.T) {
	joinErr := errors.New("auth timeout")
	r := &fakeRadio{joinErrs: []error{joinErr, joinErr, joinErr}, addr: netip.MustParseAddr("10.0.0.2")}
	s, slept := newTestSupervisor(r, 0)

	for i := 0; i < 20 && s.State() != LinkUp; i++ {
		s.step()
	}
	if s.State() != LinkUp {
		t.Fatalf("never reached link up, state %v", s.State())
	}
	if len(*slept) != 3 {
		t.Fatalf("sleeps = %v, want 3", *slept)
	}
	for _, d := range *slept {
		if d != 5*time.Second {
			t.Errorf("retry delay %v, want fixed 5s", d)
		}
	}
	if r.starts != 1 {
		t.Errorf("radio started %d times, want once", r.starts)
	}
	if len(r.joins) != 4 {
		t.Errorf("joins = %d, want 4", len(r.joins))
	}
}

func TestStartRetriedUntilSuccess(t *testing.T) {
	r := &fakeRadio{startErrs: []error{errors.New("firmware upload")}}
	s, slept := newTestSupervisor(r, 0)

	s.step() // -> associating
	s.step() // start fails
	if s.State() != Disconnected || len(*slept) != 1 {
		t.Fatalf("state %v sleeps %v", s.State(), *slept)
	}
	s.step()
	s.step()
	if s.State() != Connected || r.starts != 2 {
		t.Errorf("state %v starts %d", s.State(), r.starts)
	}
}

func TestAddressFailure(t *testing.T) {
	r := &fakeRadio{addrErrs: []error{errors.New("dhcp timeout")}}
	s, slept := newTestSupervisor(r, 0)

	s.step()
	s.step()
	s.step() // dhcp fails
	if s.State() != Disconnected {
		t.Fatalf("state = %v", s.State())
	}
	if len(*slept) != 1 {
		t.Errorf("sleeps = %v", *slept)
	}
	if isClosed(s.Up()) {
		t.Error("Up closed without an address")
	}
}

func TestDisconnectReassociates(t *testing.T) {
	r := &fakeRadio{addr: netip.MustParseAddr("10.0.0.2")}
	s, slept := newTestSupervisor(r, 0)
	for i := 0; i < 3; i++ {
		s.step()
	}
	oldUp := s.Up()

	s.NotifyDisconnect()
	s.NotifyDisconnect() // coalesced
	s.step()
	if s.State() != Disconnected {
		t.Fatalf("state = %v", s.State())
	}
	if len(*slept) != 1 || (*slept)[0] != 5*time.Second {
		t.Errorf("sleeps = %v", *slept)
	}
	if isClosed(s.Up()) {
		t.Error("new Up channel should be open")
	}
	if !isClosed(oldUp) {
		t.Error("old Up channel must stay closed")
	}
	if s.Addr().IsValid() {
		t.Error("address should be cleared")
	}

	for i := 0; i < 3; i++ {
		s.step()
	}
	if s.State() != LinkUp || len(r.joins) != 2 {
		t.Errorf("state %v joins %d", s.State(), len(r.joins))
	}

	// The second NotifyDisconnect was dropped, so the link stays up.
	done := make(chan struct{})
	go func() {
		s.step()
		close(done)
	}()
	select {
	case <-done:
		t.Error("step returned without a disconnect event")
	case <-time.After(50 * time.Millisecond):
	}
	s.NotifyDisconnect()
	<-done
}

func TestWatchdog(t *testing.T) {
	r := &fakeRadio{addr: netip.MustParseAddr("10.0.0.2")}
	s, _ := newTestSupervisor(r, 3)
	for i := 0; i < 3; i++ {
		s.step()
	}

	s.ReportCycle(true)
	s.ReportCycle(true)
	s.ReportCycle(false) // healthy cycle resets the count
	s.ReportCycle(true)
	s.ReportCycle(true)
	select {
	case <-s.disconnect:
		t.Fatal("watchdog tripped early")
	default:
	}

	s.ReportCycle(true)
	select {
	case <-s.disconnect:
	default:
		t.Fatal("watchdog did not trip after 3 dead cycles")
	}
}

func TestWatchdogDisabled(t *testing.T) {
	s, _ := newTestSupervisor(&fakeRadio{}, 0)
	for i := 0; i < 10; i++ {
		s.ReportCycle(true)
	}
	select {
	case <-s.disconnect:
		t.Fatal("disabled watchdog tripped")
	default:
	}
}
