package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/kzorman/emboot"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var commands = map[string]func(*emboot.SerialTransport, []string){
	"info":     processInfo,
	"cli":      processCli,
	"validate": processValidate,
	"ports":    processPorts,
}

type upgradeProfile struct {
	Options emboot.Options
}

const appVersion = "0.1.0"

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port name.")
	baud := flag.Int("baud", 115200, "Baud rate.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	hexFile := flag.Bool("hex", false, "Treat the firmware file as Intel HEX instead of raw binary.")
	before := flag.String("before", "", "Command to run before upgrading.")
	after := flag.String("after", "", "Command to run after the upgrade has completed successfully.")

	// Format an empty upgradeProfile struct in YAML format as an example.
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.Encode(upgradeProfile{Options: emboot.DefaultOptions()})
	profile := flag.String("profile", "", "Upgrade profile yaml file. Example:\n\n"+buf.String())

	cmdList := []string{}
	for key := range commands {
		cmdList = append(cmdList, key)
	}
	command := flag.String("cmd", "", fmt.Sprintf("Command to run, one of: %+v\n"+
		"info: query and print device info\n"+
		"cli 'text': send one line over the device CLI tunnel\n"+
		"validate file: check a firmware image header without touching the device\n"+
		"ports: list serial ports", cmdList))

	flag.Parse()

	if *version {
		fmt.Println(appVersion)
		return
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	emboot.SetLogger(log.StandardLogger())

	switch {
	case *command != "":
		// Run a single command
		f, ok := commands[*command]
		if !ok {
			log.Fatalf("invalid command %v", *command)
		}
		var transport *emboot.SerialTransport
		if *command != "ports" && *command != "validate" {
			if *port == "" {
				log.Fatal("must specify port")
			}
			transport = emboot.NewSerialTransport(*port, *baud)
		}
		f(transport, flag.Args())

	default:
		// Upgrade a firmware image
		if len(flag.Args()) != 1 {
			log.Fatalf("must specify firmware file to flash")
		}
		if *port == "" {
			log.Fatal("must specify port")
		}

		opts := emboot.DefaultOptions()
		if *profile != "" {
			f, err := os.ReadFile(*profile)
			if err != nil {
				log.Fatalf("failed to open profile file: %v", err)
			}
			p := new(upgradeProfile)
			if err := yaml.Unmarshal(f, p); err != nil {
				log.Fatalf("failed to parse profile file: %v", err)
			}
			opts = p.Options
		}

		img, err := openImage(flag.Args()[0], *hexFile)
		if err != nil {
			log.Fatal(err)
		}
		if !img.Validate() {
			log.Fatalf("firmware image header CRC invalid, refusing to flash")
		}
		log.Infof("firmware image loaded: sw version %v, hw version %v, size %v bytes",
			img.SwVersion(), img.HwVersion(), img.Size())

		// Run the before command
		if *before != "" {
			log.Infof("running before command...")
			if err := exec.Command(*before).Run(); err != nil {
				log.Fatalf("failed to run before command: %v", err)
			}
		}

		transport := emboot.NewSerialTransport(*port, *baud)
		upgrader := emboot.NewUpgrader(transport.Send, opts)

		done := make(chan emboot.Outcome, 1)
		var lastPercent int = -1
		var mu sync.Mutex

		upgrader.OnProgress(func(percent float64, phase string) {
			mu.Lock()
			defer mu.Unlock()
			if p := int(percent); p != lastPercent {
				lastPercent = p
				log.Infof("%s: %3d%%", phase, p)
			}
		})
		upgrader.OnComplete(func(outcome emboot.Outcome, detail string) {
			log.Infof("%s", detail)
			done <- outcome
		})

		if err := transport.Open(upgrader.HandleBytes); err != nil {
			log.Fatalf("failed to open port: %v", err)
		}
		defer transport.Close()

		log.Infof("upgrading...")
		if err := upgrader.Start(img); err != nil {
			log.Fatal(err)
		}

		if outcome := <-done; outcome != emboot.OutcomeDone {
			os.Exit(1)
		}

		// Run the after command
		if *after != "" {
			log.Infof("running after command...")
			if err := exec.Command(*after).Run(); err != nil {
				log.Fatalf("failed to run after command: %v", err)
			}
		}
	}
}

func openImage(path string, forceHex bool) (*emboot.FwImage, error) {
	if forceHex || strings.HasSuffix(strings.ToLower(path), ".hex") {
		return emboot.OpenImageHex(path)
	}
	return emboot.OpenImage(path)
}
