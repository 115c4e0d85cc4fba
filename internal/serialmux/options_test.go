package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
	if got.String() != "115200 8N1" {
		t.Errorf("String() = %q, want %q", got.String(), "115200 8N1")
	}
}

func TestPortOptions_Normalise_FusionRate(t *testing.T) {
	got, err := PortOptions{BaudRate: 921600, DataBits: 7, StopBits: 2, Parity: "even"}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: 921600, DataBits: 7, StopBits: 2, Parity: "E"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_NegativeBaudRate(t *testing.T) {
	got, err := PortOptions{BaudRate: -5}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("negative baud rate should default to %d, got %d", DefaultBaudRate, got.BaudRate)
	}
}

func TestPortOptions_Normalise_AllStandardBaudRates(t *testing.T) {
	for _, rate := range StandardBaudRates {
		got, err := PortOptions{BaudRate: rate}.Normalise()
		if err != nil {
			t.Errorf("Normalise() with baud %d: unexpected error %v", rate, err)
		}
		if got.BaudRate != rate {
			t.Errorf("Normalise() with baud %d: got %d", rate, got.BaudRate)
		}
	}
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"odd baud", PortOptions{BaudRate: 12345}},
		{"data bits too low", PortOptions{DataBits: 4}},
		{"data bits too high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "X"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.opts.Normalise(); err == nil {
				t.Errorf("Normalise(%+v) error = nil, want error", tc.opts)
			}
		})
	}
}

func TestPortOptions_Normalise_ParityVariations(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "N"},
		{"n", "N"},
		{"NONE", "N"},
		{"e", "E"},
		{"EVEN", "E"},
		{"o", "O"},
		{"odd", "O"},
		{"  N  ", "N"},
	}
	for _, tc := range tests {
		got, err := PortOptions{Parity: tc.input}.Normalise()
		if err != nil {
			t.Fatalf("Normalise() with parity %q: unexpected error %v", tc.input, err)
		}
		if got.Parity != tc.want {
			t.Errorf("Normalise() with parity %q: got %q, want %q", tc.input, got.Parity, tc.want)
		}
	}
}

func TestPortOptions_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b PortOptions
		want bool
	}{
		{"explicit", PortOptions{BaudRate: 921600, Parity: "N"}, PortOptions{BaudRate: 921600, Parity: "none"}, true},
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, true},
		{"baud", PortOptions{BaudRate: 9600}, PortOptions{BaudRate: 19200}, false},
		{"parity", PortOptions{Parity: "E"}, PortOptions{Parity: "O"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.a.Equal(tc.b)
			if err != nil {
				t.Fatalf("Equal() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Equal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPortOptions_Equal_Invalid(t *testing.T) {
	if _, err := (PortOptions{BaudRate: 12345}).Equal(PortOptions{}); err == nil {
		t.Error("expected error for invalid first options, got nil")
	}
	if _, err := (PortOptions{}).Equal(PortOptions{BaudRate: 12345}); err == nil {
		t.Error("expected error for invalid second options, got nil")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		name   string
		opts   PortOptions
		parity serial.Parity
		stop   serial.StopBits
	}{
		{"default", PortOptions{}, serial.NoParity, serial.OneStopBit},
		{"even", PortOptions{Parity: "E"}, serial.EvenParity, serial.OneStopBit},
		{"odd two stop", PortOptions{Parity: "O", StopBits: 2}, serial.OddParity, serial.TwoStopBits},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mode, err := tc.opts.SerialMode()
			if err != nil {
				t.Fatalf("SerialMode() error = %v", err)
			}
			if mode.BaudRate != DefaultBaudRate {
				t.Errorf("BaudRate = %d, want %d", mode.BaudRate, DefaultBaudRate)
			}
			if mode.DataBits != 8 {
				t.Errorf("DataBits = %d, want 8", mode.DataBits)
			}
			if mode.Parity != tc.parity {
				t.Errorf("Parity = %v, want %v", mode.Parity, tc.parity)
			}
			if mode.StopBits != tc.stop {
				t.Errorf("StopBits = %v, want %v", mode.StopBits, tc.stop)
			}
		})
	}
}

func TestPortOptions_SerialMode_InvalidOptions(t *testing.T) {
	if _, err := (PortOptions{BaudRate: 12345}).SerialMode(); err == nil {
		t.Error("expected error for invalid options, got nil")
	}
}
