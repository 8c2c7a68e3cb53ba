package rewrite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"foo.sh", ".sh"},
		{"foo.SH", ".sh"},
		{"README.HTML", ".html"},
		{"noext", ""},
		{".bashrc", ""},
		{"lib.so.6", ".6"},
	}
	for _, test := range tests {
		if got := extension(test.filename); got != test.want {
			t.Errorf("extension(%q) = %q; want %q", test.filename, got, test.want)
		}
	}
}

func TestClassifyByExtension(t *testing.T) {
	tests := []struct {
		filename string
		tag      string
		ok       bool
	}{
		{"setup.sh", "sh", true},
		{"setup.bash", "sh", true},
		{"conf.zsh", "zsh", true},
		{"tool.py", "python", true},
		{"tool.pyw", "python", true},
		{"script.pl", "perl", true},
		{"mod.pm", "perl", true},
		{"gem.rb", "ruby", true},
		{"init.lua", "lua", true},
		{"run.tcl", "tcl", true},
		{"app.js", "javascript", true},
		{"app.mjs", "javascript", true},
		{"pkg.json", "json", true},
		{"app.conf", "conf", true},
		{"app.cfg", "conf", true},
		{"app.desktop", "desktop", true},
		{"app.properties", "properties", true},
		{"app.ini", "ini", true},
		{"rules.mk", "makefile", true},
		{"macros.m4", "m4", true},
		{"data.xml", "xml", true},
		{"prog.awk", "awk", true},
		{"image.png", "", false},
		{"noext", "", false},
	}
	for _, test := range tests {
		tag, ok := classify(test.filename, nil)
		if tag != test.tag || ok != test.ok {
			t.Errorf("classify(%q, nil) = %q, %t; want %q, %t", test.filename, tag, ok, test.tag, test.ok)
		}
	}
}

func TestClassifyByShebang(t *testing.T) {
	tests := []struct {
		name    string
		content string
		tag     string
		ok      bool
	}{
		{"Sh", "#!/bin/sh\necho hi\n", "sh", true},
		{"Bash", "#!/bin/bash\n", "sh", true},
		{"StorePath", "#!/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-bash-5.2/bin/bash\n", "sh", true},
		{"Python3", "#!/usr/bin/python3\n", "python", true},
		{"Python311", "#!/usr/bin/python3.11\n", "python", true},
		{"EnvPython", "#!/usr/bin/env python\n", "python", true},
		{"EnvFlags", "#!/usr/bin/env -S perl -w\n", "perl", true},
		{"Node", "#!/usr/bin/env node\n", "javascript", true},
		{"Unknown", "#!/usr/bin/fancy\n", "", false},
		{"NoShebang", "echo hi\n", "", false},
		{"EmptyShebang", "#!\n", "", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tag, ok := classify("somescript", []byte(test.content))
			if tag != test.tag || ok != test.ok {
				t.Errorf("classify = %q, %t; want %q, %t", tag, ok, test.tag, test.ok)
			}
		})
	}
}

func TestClassifyLargeContentSkipsShebang(t *testing.T) {
	content := append([]byte("#!/bin/sh\n"), bytes.Repeat([]byte{'x'}, maxContentDetectSize)...)
	_, ok := classify("somescript", content)
	assert.False(t, ok, "content above the detection cap must not be classified")
}

func TestAliasInterpreter(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"python3", "python"},
		{"python2", "python"},
		{"python3.11", "python"},
		{"perl5.36", "perl"},
		{"lua5.4", "lua"},
		{"bash", "bash"},
	}
	for _, test := range tests {
		if got := aliasInterpreter(test.in); got != test.want {
			t.Errorf("aliasInterpreter(%q) = %q; want %q", test.in, got, test.want)
		}
	}
}
