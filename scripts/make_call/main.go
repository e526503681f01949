package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/telvox"
	"github.com/harunnryd/telvox/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "examples/phone/config.yaml", "")
	from := flag.String("from", "", "caller ID")
	to := flag.String("to", "", "destination number")
	voiceURL := flag.String("voice_url", "", "override the voice webhook URL")
	hangup := flag.String("hangup", "", "call sid to hang up instead of dialing")
	flag.Parse()

	cfg, err := telvox.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	tc, err := telvox.TwilioConfig(cfg)
	if err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	dialer := twilio.NewDialer(tc)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if *hangup != "" {
		if err := dialer.Hangup(ctx, *hangup); err != nil {
			fmt.Println("hangup error:", err, "reason_code:", errorsx.Reason(err))
			os.Exit(1)
		}
		fmt.Println("hung up:", *hangup)
		return
	}

	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...] | -hangup=CA...")
		os.Exit(1)
	}
	callSID, err := dialer.Dial(ctx, *to, *from, *voiceURL)
	if err != nil {
		fmt.Println("call error:", err, "reason_code:", errorsx.Reason(err))
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
