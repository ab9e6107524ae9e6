package main

import (
	"bufio"
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"

	"github.com/tcaine/gumshoe/internal/core/debug"
	"github.com/tcaine/gumshoe/internal/protocol"
)

// sniffer reassembles gumshoe frames out of captured TCP segments. Each
// direction of each connection gets its own decoder since frames routinely
// span multiple segments.
type sniffer struct {
	serverPort uint16
	writer     *bufio.Writer

	decoders map[string]*protocol.Decoder
}

func (s *sniffer) startReading(packets chan gopacket.Packet) {
	s.decoders = make(map[string]*protocol.Decoder)

	for packet := range packets {
		transport := packet.TransportLayer()
		app := packet.ApplicationLayer()
		if transport == nil || app == nil {
			continue
		}

		flow := transport.TransportFlow()
		srcPort := binary.BigEndian.Uint16(flow.Src().Raw())
		dstPort := binary.BigEndian.Uint16(flow.Dst().Raw())
		if srcPort != s.serverPort && dstPort != s.serverPort {
			continue
		}

		s.handleSegment(flow.String(), dstPort == s.serverPort, app.Payload())
	}
}

// handleSegment feeds one segment's payload through the flow's decoder and
// prints whatever complete messages fall out.
func (s *sniffer) handleSegment(flowKey string, clientSent bool, payload []byte) {
	decoder, ok := s.decoders[flowKey]
	if !ok {
		decoder = protocol.NewDecoder(0)
		s.decoders[flowKey] = decoder
	}

	messages, err := decoder.Decode(payload)
	for _, message := range messages {
		s.printMessage(flowKey, clientSent, message)
	}
	if err != nil {
		// Most likely we started capturing mid-frame. Resync at the next
		// segment boundary.
		fmt.Fprintf(s.writer, "[%s] undecodable data (%s), resetting\n", flowKey, err)
		delete(s.decoders, flowKey)
	}
	s.writer.Flush()
}

func (s *sniffer) printMessage(flowKey string, clientSent bool, m protocol.Message) {
	direction := "server -> client"
	if clientSent {
		direction = "client -> server"
	}
	fmt.Fprintf(s.writer, "[%s] %s %s\n%s\n", flowKey, direction, m.Kind(), debug.DumpMessage(m))
}
