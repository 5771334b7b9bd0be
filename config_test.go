package main

import (
	"reflect"
	"testing"
)

func TestParseIntList(t *testing.T) {
	tests := []struct {
		list    string
		want    []int
		wantErr bool
	}{
		{"", []int{}, false},
		{"1000", []int{1000}, false},
		{"1000,2048", []int{1000, 2048}, false},
		{" 8 , 16 ", []int{8, 16}, false},
		{"1000,", nil, true},
		{"abc", nil, true},
		{"10.5", nil, true},
	}

	for _, test := range tests {
		got, err := parseIntList(test.list)
		if (err != nil) != test.wantErr {
			t.Errorf("parseIntList(%q) error = %v, wantErr %v",
				test.list, err, test.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("parseIntList(%q) = %v, want %v",
				test.list, got, test.want)
		}
	}
}

func TestValidLogLevel(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn",
		"error", "critical"} {
		if !validLogLevel(level) {
			t.Errorf("validLogLevel(%q) = false, want true", level)
		}
	}
	for _, level := range []string{"", "INFO", "verbose", "show"} {
		if validLogLevel(level) {
			t.Errorf("validLogLevel(%q) = true, want false", level)
		}
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"MAIN=debug,STRT=trace", false},
		{"bogus", true},
		{"MAIN=bogus", true},
		{"NOPE=debug", true},
		{"MAINdebug", true},
	}

	for _, test := range tests {
		err := parseAndSetDebugLevels(test.level)
		if (err != nil) != test.wantErr {
			t.Errorf("parseAndSetDebugLevels(%q) error = %v, wantErr %v",
				test.level, err, test.wantErr)
		}
	}
	// Restore the default level for any other tests in the package.
	setLogLevels(defaultLogLevel)
}
