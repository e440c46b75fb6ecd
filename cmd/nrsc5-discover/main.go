package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rjboer/gonrsc5/internal/mdns"
)

func main() {
	timeout := pflag.DurationP("timeout", "t", 5*time.Second, "How long to browse")
	receivers := pflag.Bool("receivers", false, "List nrsc5 receivers instead of rtl_tcp servers")
	pflag.Parse()

	service := mdns.RTLTCPService
	if *receivers {
		service = mdns.ReceiverService
	}

	fmt.Println("===============================================================")
	fmt.Println(" mDNS / DNS-SD Discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.local\n", service)
	fmt.Printf(" Timeout : %s\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	start := time.Now()
	hosts, err := mdns.Discover(context.Background(), service, *timeout)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}

	if len(hosts) == 0 {
		fmt.Printf("No servers found (%s)\n", duration.Truncate(time.Millisecond))
		return
	}

	fmt.Printf("Discovered %d server(s) in %s\n",
		len(hosts), duration.Truncate(time.Millisecond))
	fmt.Println("===============================================================")
	printHosts(os.Stdout, hosts, *receivers)
}

func printHosts(w io.Writer, hosts []mdns.Host, receivers bool) {
	for i, h := range hosts {
		fmt.Fprintf(w, " Server #%d\n", i+1)
		fmt.Fprintln(w, "---------------------------------------------------------------")
		fmt.Fprintf(w, " Instance : %s\n", h.Instance)
		fmt.Fprintf(w, " Hostname : %s\n", h.Hostname)
		fmt.Fprintf(w, " Port     : %d\n", h.Port)

		fmt.Fprintln(w, " Addresses:")
		if len(h.Addresses) == 0 {
			fmt.Fprintln(w, "   <none>")
		} else {
			for _, ip := range h.Addresses {
				fmt.Fprintf(w, "   - %s\n", ip.String())
			}
		}

		if len(h.TXT) > 0 {
			fmt.Fprintln(w, " TXT Records:")
			for _, txt := range h.TXT {
				fmt.Fprintf(w, "   - %s\n", txt)
			}
		}

		fmt.Fprintln(w, " Usage:")
		if receivers {
			fmt.Fprintf(w, "   http://%s/api/status\n", h.Address())
		} else {
			fmt.Fprintf(w, "   nrsc5 -b rtltcp --address %s <frequency> <program>\n", h.Address())
		}
		fmt.Fprintln(w, "===============================================================")
	}
}
