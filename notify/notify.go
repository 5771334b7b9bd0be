// Copyright (c) 2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// This is a simple server to provide static responses similar to a
// cryptonight stratum pool for debug purposes.

package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
)

func main() {
	ln, err := net.Listen("tcp", ":2222")
	if err != nil {
		fmt.Println(err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			fmt.Println(err)
		}
		go handleConnection(conn)
	}

}

func handleConnection(c net.Conn) {
	// Login reply carrying the first job.  The blob is a 76 byte hashing
	// blob with the nonce bytes zeroed and the target is the compact 32
	// bit form for difficulty 10000.
	msg1 := `{"id":1,"jsonrpc":"2.0","error":null,"result":{"id":"deadbeef-cafe-4bab-b00b-1e5ca11ab1e5","job":{"blob":"0707f7cafbd605f9d3a4b9cc89cbde6b3ba1c9d2d8f54ae9b89a0dd315a642a9e08b9fbb00000000a9e27cb53a48dc6a03dd59e9e41b9e243b8bdbbc871c1d86ab4efb8d6652c11905","job_id":"900543211","target":"b88d0600"},"status":"OK"}}`
	msg2 := `{"jsonrpc":"2.0","method":"job","params":{"blob":"0707f9cafbd605a8e43f1a8d29a95bc80e6d5309cb689c25eba4209096a4f352996eb32a00000000ce961b09b6e617b63b2f3a3ba25ec748d64588c7d4e8b07bbd3102959e15c22e06","job_id":"900543212","target":"b88d0600"}}`
	msg3 := `{"id":2,"jsonrpc":"2.0","error":null,"result":{"status":"OK"}}`
	msg4 := `{"id":3,"jsonrpc":"2.0","error":null,"result":{"status":"KEEPALIVED"}}`

	reader := bufio.NewReader(c)

	for {
		buf, err := reader.ReadBytes('\n')
		if err != nil {
			c.Close()
			return
		}
		fmt.Println("Received " + string(buf))

		switch {
		case strings.Contains(string(buf), `"login"`):
			send("login reply", []byte(msg1), c)
			send("job push", []byte(msg2), c)
		case strings.Contains(string(buf), `"submit"`):
			send("submit reply", []byte(msg3), c)
		case strings.Contains(string(buf), `"keepalived"`):
			send("keepalived reply", []byte(msg4), c)
		}
	}
}

func send(mType string, m []byte, c net.Conn) {
	fmt.Println("Sending ", mType)
	_, err := c.Write(m)
	if err != nil {
		fmt.Println(err)
	}
	_, err = c.Write([]byte("\n"))
	if err != nil {
		fmt.Println(err)
	}

}
