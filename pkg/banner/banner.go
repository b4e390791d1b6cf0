package banner

import (
	"fmt"
)

const banner = `
███████╗ ██████╗ ██████╗  ██████╗ ██████╗ ████████╗███████╗
██╔════╝██╔═══██╗██╔══██╗██╔═══██╗██╔══██╗╚══██╔══╝██╔════╝
███████╗██║   ██║██████╔╝██║   ██║██████╔╝   ██║   █████╗
╚════██║██║   ██║██╔═══╝ ██║   ██║██╔══██╗   ██║   ██╔══╝
███████║╚██████╔╝██║     ╚██████╔╝██║  ██║   ██║   ███████╗
╚══════╝ ╚═════╝ ╚═╝      ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝
`

// Print writes the startup banner with runtime info.
func Print(addr, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/threads/{tenant}/messages       - Append a message")
	fmt.Println("GET  /v1/threads/{tenant}/messages?since - History since a cursor")
	fmt.Println("POST /v1/threads/{tenant}/read           - Mark thread read")
	fmt.Println("GET  /v1/threads                         - Operator thread overview")
	fmt.Println("GET  /v1/threads/{tenant}/stream         - Live push (WebSocket)")
	fmt.Println("GET  /v1/stream                          - Operator live push, all threads")
}
