package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kzorman/emboot"
	log "github.com/sirupsen/logrus"
)

func processInfo(transport *emboot.SerialTransport, args []string) {
	type infoRsp struct {
		status  emboot.Status
		payload []byte
	}
	rsp := make(chan infoRsp, 1)

	codec := emboot.NewCodec(transport.Send, emboot.Handlers{
		Info: func(status emboot.Status, payload []byte) {
			rsp <- infoRsp{status, payload}
		},
	})

	if err := transport.Open(codec.Receive); err != nil {
		log.Fatalf("failed to open port: %v", err)
	}
	defer transport.Close()

	if err := codec.SendInfo(); err != nil {
		log.Fatalf("failed to send info request: %v", err)
	}

	select {
	case r := <-rsp:
		if !r.status.OK() {
			log.Fatalf("info request failed: %v", r.status)
		}
		log.Infof("device info (%v bytes):", len(r.payload))
		fmt.Print(hex.Dump(r.payload))
	case <-time.After(5 * time.Second):
		log.Fatal("timeout waiting for info response")
	}
}

func processCli(transport *emboot.SerialTransport, args []string) {
	if len(args) != 1 {
		log.Fatalf("expected: command string")
	}

	parser := emboot.NewScpParser()
	lines := make(chan string, 16)

	if err := transport.Open(func(chunk []byte) {
		if line, ok := parser.Parse(chunk); ok {
			lines <- line
		}
	}); err != nil {
		log.Fatalf("failed to open port: %v", err)
	}
	defer transport.Close()

	msg := emboot.ScpCliMessage{}
	if err := transport.Send(msg.Assemble(args[0])); err != nil {
		log.Fatalf("failed to send cli command: %v", err)
	}

	// Print replies until the device goes quiet.
	for {
		select {
		case line := <-lines:
			fmt.Print(line)
		case <-time.After(time.Second):
			return
		}
	}
}

func processValidate(_ *emboot.SerialTransport, args []string) {
	if len(args) != 1 {
		log.Fatalf("expected: firmware file")
	}

	img, err := openImage(args[0], false)
	if err != nil {
		log.Fatal(err)
	}
	if !img.Validate() {
		log.Fatalf("image header CRC invalid")
	}
	log.Infof("image header valid: sw version %v, hw version %v, size %v bytes, signature type %v",
		img.SwVersion(), img.HwVersion(), img.Size(), img.SigType())
}

func processPorts(_ *emboot.SerialTransport, args []string) {
	ports, err := emboot.ListPorts()
	if err != nil {
		log.Fatalf("failed to list ports: %v", err)
	}
	if len(ports) == 0 {
		log.Info("no serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Println(p)
	}
}
