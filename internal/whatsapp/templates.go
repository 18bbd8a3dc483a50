package whatsapp

import (
	"fmt"
	"strings"
	"sync"
)

// Kind identifies a notification template.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindCancellation Kind = "cancellation"
	KindCompleted    Kind = "completed"
	KindRescheduled  Kind = "rescheduled"
	KindReminder     Kind = "reminder"
)

var builtInTemplates = map[Kind]string{
	KindConfirmation: "Olá {{customer_name}}! Seu agendamento em *{{business_name}}* está confirmado.\n\n" +
		"Data: {{date}} às {{time}}\n" +
		"Serviços: {{services}}\n" +
		"Profissional: {{specialist}}\n" +
		"Total: R$ {{total}}\n\n" +
		"{{business_address}}",
	KindCancellation: "Olá {{customer_name}}, seu agendamento em *{{business_name}}* do dia {{date}} às {{time}} foi cancelado.\n\n" +
		"Serviços: {{services}}\n\n" +
		"Para reagendar fale conosco: {{business_phone}}",
	KindCompleted: "Olá {{customer_name}}, obrigado pela visita a *{{business_name}}*!\n\n" +
		"Serviços realizados: {{services}}\n" +
		"Profissional: {{specialist}}\n" +
		"Total: R$ {{total}}",
	KindRescheduled: "Olá {{customer_name}}, seu agendamento em *{{business_name}}* foi reagendado.\n\n" +
		"De: {{old_date}} às {{old_time}}\n" +
		"Para: {{date}} às {{time}}\n" +
		"Serviços: {{services}}\n" +
		"Profissional: {{specialist}}",
	KindReminder: "Olá {{customer_name}}, lembrete do seu horário hoje às {{time}} em *{{business_name}}*.\n\n" +
		"Serviços: {{services}}\n" +
		"Profissional: {{specialist}}\n\n" +
		"{{business_address}}",
}

// Templates renders message bodies with {{key}} placeholders.
type Templates struct {
	mu        sync.RWMutex
	templates map[Kind]string
}

// NewTemplates returns a template set preloaded with the built-in messages.
func NewTemplates() *Templates {
	t := &Templates{templates: make(map[Kind]string, len(builtInTemplates))}
	for k, v := range builtInTemplates {
		t.templates[k] = v
	}
	return t
}

// Register adds or replaces a template.
func (t *Templates) Register(kind Kind, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.templates[kind] = body
}

// Render substitutes data into the template of kind. Unknown placeholders are
// left untouched.
func (t *Templates) Render(kind Kind, data map[string]string) (string, error) {
	t.mu.RLock()
	body, ok := t.templates[kind]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", kind)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(body)), nil
}
