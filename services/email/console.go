package emailsvc

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/shulehub/shule/core"
)

// SentMessages records messages "sent" by the console service; tests inspect it.
var (
	SentMessages = make([]core.EmailMessage, 0)
	mu           sync.Mutex
)

type consoleService struct {
	subjPrefix    string
	disableOutput bool
}

var _ core.EmailService = (*consoleService)(nil)

func NewConsoleService(conf *core.Config) core.EmailService {
	return &consoleService{subjPrefix: "[" + conf.AppName + "] "}
}

// NewConsoleServiceMock records messages without printing them.
func NewConsoleServiceMock(conf *core.Config) core.EmailService {
	return &consoleService{
		subjPrefix:    "[" + conf.AppName + "] ",
		disableOutput: true,
	}
}

func (svc consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if !msg.HasRecipients() || !msg.HasContent() {
			continue
		}

		mu.Lock()
		SentMessages = append(SentMessages, *msg)
		mu.Unlock()

		if svc.disableOutput {
			continue
		}

		tos := make([]string, 0, len(msg.To))
		for _, to := range msg.To {
			tos = append(tos, to.String())
		}
		log.Println(strings.Repeat("-", 79))
		log.Printf("To: %s", strings.Join(tos, ", "))
		log.Printf("Subject: %s", svc.subjPrefix+msg.Subject)
		log.Println(fmt.Sprintf("\n%s", msg.Body))
		log.Println(strings.Repeat("-", 79))
	}
}
