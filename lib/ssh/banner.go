// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"fmt"
	"io"
)

// protoVersion is the SSH protocol version this package speaks. It is
// fixed by RFC 4253 section 4.2 for all SSHv2 implementations.
const protoVersion = "2.0"

// maxPreBannerLines bounds how many non-"SSH-" lines we will discard
// before giving up, per RFC 4253 section 4.2's allowance for peers to
// send informational lines ahead of their identification line.
const maxPreBannerLines = 100

// Identification is the ASCII version-identification banner each peer
// sends first. See RFC 4253 section 4.2.
type Identification struct {
	ProtoVersion    string
	SoftwareVersion string
	Comment         string
}

// Marshal encodes the banner as
// "SSH-<proto>-<software>[ <comment>]\r\n".
func (id *Identification) Marshal() []byte {
	s := "SSH-" + protoVersion + "-" + id.SoftwareVersion
	if id.Comment != "" {
		s += " " + id.Comment
	}
	return []byte(s + "\r\n")
}

// readIdentification reads lines from r until one begins "SSH-",
// discarding any that don't, then parses that line per RFC 4253
// section 4.2: "SSH-" <proto> "-" <software> [" " <comment>] CR LF.
// The trailing LF is optional only when no further input is
// available; otherwise both CR and LF are mandatory.
func readIdentification(r *bufio.Reader) (*Identification, []byte, error) {
	var line []byte
	for i := 0; ; i++ {
		if i >= maxPreBannerLines {
			return nil, nil, fmt.Errorf("ssh: no identification string received after %d lines", maxPreBannerLines)
		}
		var err error
		line, err = readLine(r)
		if err != nil {
			return nil, nil, fmt.Errorf("ssh: read identification: %w", err)
		}
		if len(line) >= 4 && string(line[:4]) == "SSH-" {
			break
		}
	}
	if len(line) == 0 || line[len(line)-1] != '\r' {
		return nil, nil, fmt.Errorf("ssh: identification string %q not terminated by CR LF", line)
	}
	line = trimCR(line)

	raw := append([]byte(nil), line...)

	rest := line[len("SSH-"):]
	dash := indexByte(rest, '-')
	if dash < 0 {
		return nil, nil, fmt.Errorf("ssh: malformed identification string %q", line)
	}
	proto := string(rest[:dash])
	rest = rest[dash+1:]

	id := &Identification{ProtoVersion: proto}
	if sp := indexByte(rest, ' '); sp >= 0 {
		id.SoftwareVersion = string(rest[:sp])
		id.Comment = string(rest[sp+1:])
	} else {
		id.SoftwareVersion = string(rest)
	}
	return id, raw, nil
}

// readLine reads one line, stripping its trailing LF and leaving any
// CR before it in place. A final line lacking an LF is accepted only
// at EOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line[:len(line)-1], nil // drop LF
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// exchangeVersions writes our identification banner to w and reads the
// peer's from r, returning both raw (CR/LF-stripped) banners for
// inclusion in the exchange-hash input. The caller writes before
// reading, which is safe because both peers send their banner
// unprompted at connection start.
func exchangeVersions(w io.Writer, r *bufio.Reader, ours *Identification) (ourRaw, theirRaw []byte, err error) {
	ourRaw = ours.Marshal()
	ourRaw = ourRaw[:len(ourRaw)-2] // exchange hash input excludes CR LF

	if _, err := w.Write(ours.Marshal()); err != nil {
		return nil, nil, fmt.Errorf("ssh: write identification: %w", err)
	}

	_, theirRaw, err = readIdentification(r)
	if err != nil {
		return nil, nil, err
	}
	return ourRaw, theirRaw, nil
}
