// Command sans-query is a small debugging client: send one UDP query to
// a resolver and print whatever comes back. It is independent of the
// forwarder process; it is useful for probing an upstream directly to
// see what the forwarder itself would have seen.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"github.com/sansdns/sans-forward/internal/dnswire"
)

func main() {
	var (
		server   = flag.String("server", "8.8.8.8:53", "DNS server HOST:PORT")
		name     = flag.String("name", "example.com", "Query name")
		qtype    = flag.Int("qtype", int(dnswire.TypeA), "Query type (numeric, A=1)")
		timeout  = flag.Duration("timeout", 2*time.Second, "Timeout")
		recvSize = flag.Int("recv-size", 65535, "UDP receive buffer size")
		quiet    = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	resp, err := queryUDP(*server, *name, uint16(*qtype), *timeout, *recvSize)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "sans-query error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	printReply(resp)
}

func queryUDP(server, name string, qtype uint16, timeout time.Duration, recvSize int) ([]byte, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := dnswire.MakeQuery(buf, name, qtype)
	if err != nil {
		return nil, err
	}

	_ = c.SetDeadline(time.Now().Add(timeout))
	if _, err := c.Write(buf[:n]); err != nil {
		return nil, err
	}

	respBuf := make([]byte, recvSize)
	rn, err := c.Read(respBuf)
	if err != nil {
		return nil, err
	}
	return respBuf[:rn], nil
}

// printReply walks the reply by hand (header, question, then every
// answer record header) since dnswire only models the pieces the
// forwarder core itself needs; a debug tool is a reasonable place to
// walk the rest without growing that package's surface.
func printReply(msg []byte) {
	off := 0
	h, err := dnswire.ParseHeader(msg, &off)
	if err != nil {
		fmt.Printf("received %d bytes (unparseable header: %v)\n", len(msg), err)
		return
	}

	rcode := dnswire.RCode(h.Flags & dnswire.RCodeMask)
	fmt.Printf("id=%d rcode=%d answers=%d authorities=%d additionals=%d\n",
		h.ID, rcode, h.ANCount, h.NSCount, h.ARCount)

	for i := uint16(0); i < h.QDCount; i++ {
		if _, err := dnswire.ParseQuestion(msg, &off); err != nil {
			fmt.Printf("(truncated question: %v)\n", err)
			return
		}
	}

	rows := make([]string, 0, h.ANCount)
	for i := uint16(0); i < h.ANCount; i++ {
		rr, err := dnswire.ParseRecordHeader(msg, &off)
		if err != nil {
			rows = append(rows, fmt.Sprintf("(truncated answer %d: %v)", i, err))
			break
		}
		rows = append(rows, formatRR(rr))
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Println(s)
	}
}

func formatRR(rr dnswire.RecordHeader) string {
	name := rr.Name
	if name == "" {
		name = "."
	}
	switch dnswire.RecordType(rr.Type) {
	case dnswire.TypeA:
		if len(rr.RData) == 4 {
			return fmt.Sprintf("%s %d IN A %d.%d.%d.%d", name, rr.TTL, rr.RData[0], rr.RData[1], rr.RData[2], rr.RData[3])
		}
	case dnswire.TypeAAAA:
		if len(rr.RData) == 16 {
			return fmt.Sprintf("%s %d IN AAAA %s", name, rr.TTL, net.IP(rr.RData).String())
		}
	}
	return fmt.Sprintf("%s %d IN TYPE%d (%d bytes rdata)", name, rr.TTL, rr.Type, len(rr.RData))
}
