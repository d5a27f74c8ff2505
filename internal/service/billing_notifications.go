package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/subscription"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// Notification kinds, also the email_sent payload type.
const (
	EmailKindPastDueCreated       = "past_due_created"
	EmailKindPastDueReminder      = "past_due_reminder"
	EmailKindSubscriptionCanceled = "subscription_canceled"
	EmailKindAnnualExpiring       = "annual_expiring"
	EmailKindAnnualExpired        = "annual_expired"
)

var (
	annualReminderDays  = []int{30, 7, 1}
	pastDueReminderDays = []int{2, 1}
)

const (
	dateTimeLayout = "02/01/2006 15:04 UTC"
	dateLayout     = "02/01/2006"
)

// statusMessage is the hint shown next to the billing status.
func statusMessage(sub *subscription.Subscription, effective types.PlanCode, now time.Time) *string {
	if sub.Status == types.SubscriptionStatusPastDue && sub.GracePeriodEnd != nil {
		return lo.ToPtr(fmt.Sprintf("Pagamento pendente. Você mantém acesso ao Plus até %s.", sub.GracePeriodEnd.UTC().Format(dateTimeLayout)))
	}

	if sub.PlanCode == types.PlanCodePlusAnnual && sub.Status == types.SubscriptionStatusActive && sub.CurrentPeriodEnd != nil {
		days := subscription.DaysUntil(now, *sub.CurrentPeriodEnd)
		if lo.Contains(annualReminderDays, days) {
			return lo.ToPtr(fmt.Sprintf("Seu Plus anual expira em %d dia(s). Renove para manter acesso.", days))
		}
		if days < 0 && effective.IsFree() {
			return lo.ToPtr("Seu Plus anual expirou. Você voltou para o Free.")
		}
	}

	if effective.IsFree() && (sub.Status == types.SubscriptionStatusCanceled || sub.Status == types.SubscriptionStatusExpired) {
		return lo.ToPtr("Seu plano Plus não está ativo. Você está no Free.")
	}
	return nil
}

func (s *billingService) billingLink(planParam string) string {
	return fmt.Sprintf("%s/billing?plan=%s&next=/dashboard", strings.TrimRight(s.Config.Billing.PublicAppURL, "/"), planParam)
}

// notify sends one notification at most once per key. The key is reserved
// by inserting the email_sent event before sending, so concurrent sweeps
// race on the unique index rather than on the mailbox. Returns whether this
// call sent it.
func (s *billingService) notify(ctx context.Context, tenantID, key, kind, subject, body string, payload map[string]interface{}) bool {
	log := s.Logger.WithContext(ctx).WithTenant(tenantID)

	emails, err := s.TenantDirectory.AdminEmails(ctx, tenantID)
	if err != nil {
		log.Errorw("failed to load tenant admin emails", "kind", kind, "error", err)
		return false
	}
	if len(emails) == 0 {
		log.Infow("no admin email to notify", "kind", kind)
		return false
	}

	data := map[string]interface{}{"type": kind}
	for k, v := range payload {
		data[k] = v
	}
	created, err := s.BillingEventRepo.Append(ctx, billingevent.New(tenantID, types.BillingProviderInternal, types.EventTypeEmailSent, key, data))
	if err != nil {
		log.Errorw("failed to reserve notification", "kind", kind, "error", err)
		return false
	}
	if !created {
		return false
	}

	if err := s.EmailSender.SendGenericEmail(ctx, emails, subject, body); err != nil {
		log.Warnw("failed to hand off notification", "kind", kind, "error", err)
	}
	s.Metrics.Email(kind)
	return true
}

func (s *billingService) notifyPastDueCreated(ctx context.Context, sub *subscription.Subscription) bool {
	if sub.GracePeriodEnd == nil {
		return false
	}
	grace := sub.GracePeriodEnd.UTC()
	key := fmt.Sprintf("email:past_due:created:%s:%s", sub.ID, subscription.DateKey(grace))
	body := "Detectamos uma falha no pagamento do Plano Plus (cartão).\n\n" +
		fmt.Sprintf("Você mantém acesso ao Plus até: %s\n\n", grace.Format(dateTimeLayout)) +
		"Acesse o billing para regularizar:\n" +
		s.billingLink("plus_monthly_card") + "\n"

	return s.notify(ctx, sub.TenantID, key, EmailKindPastDueCreated,
		"Pagamento pendente — Elemento Juris", body,
		map[string]interface{}{"at": s.now().Format(time.RFC3339)})
}

func (s *billingService) notifyPastDueReminder(ctx context.Context, sub *subscription.Subscription, daysLeft int) bool {
	if sub.GracePeriodEnd == nil {
		return false
	}
	grace := sub.GracePeriodEnd.UTC()
	key := fmt.Sprintf("email:past_due:reminder:%d:%s:%s", daysLeft, sub.ID, subscription.DateKey(grace))
	body := "Seu pagamento do Plano Plus (cartão) está pendente.\n\n" +
		fmt.Sprintf("Prazo final para regularizar: %s\n", grace.Format(dateTimeLayout)) +
		fmt.Sprintf("Faltam %d dia(s).\n\n", daysLeft) +
		"Acesse:\n" + s.billingLink("plus_monthly_card") + "\n"

	return s.notify(ctx, sub.TenantID, key, EmailKindPastDueReminder,
		"Lembrete: pagamento pendente — Elemento Juris", body,
		map[string]interface{}{"days_left": daysLeft})
}

func (s *billingService) notifyCanceled(ctx context.Context, tenantID string, grace time.Time) bool {
	key := fmt.Sprintf("email:subscription:canceled:%s:%s", tenantID, subscription.DateKey(grace))
	body := "Sua assinatura do Plano Plus foi cancelada.\n\n" +
		"Você voltou para o Plano Free.\n\n" +
		"Reative quando quiser:\n" + s.billingLink("plus") + "\n"

	return s.notify(ctx, tenantID, key, EmailKindSubscriptionCanceled,
		"Plano Plus cancelado — Elemento Juris", body, nil)
}

func (s *billingService) notifyAnnualExpiring(ctx context.Context, sub *subscription.Subscription, daysLeft int) bool {
	if sub.CurrentPeriodEnd == nil {
		return false
	}
	end := sub.CurrentPeriodEnd.UTC()
	key := fmt.Sprintf("email:annual:expiring:%d:%s:%s", daysLeft, sub.ID, subscription.DateKey(end))
	body := "Plano Plus anual (Pix): aviso de expiração.\n\n" +
		fmt.Sprintf("Data de expiração: %s\n", end.Format(dateLayout)) +
		fmt.Sprintf("Faltam %d dia(s).\n\n", daysLeft) +
		"Renove para manter acesso:\n" + s.billingLink("plus_annual_pix") + "\n"

	return s.notify(ctx, sub.TenantID, key, EmailKindAnnualExpiring,
		"Seu Plus anual está expirando — Elemento Juris", body,
		map[string]interface{}{"days_left": daysLeft})
}

func (s *billingService) notifyAnnualExpired(ctx context.Context, tenantID string, periodEnd time.Time) bool {
	end := periodEnd.UTC()
	key := fmt.Sprintf("email:annual:expired:%s:%s", tenantID, subscription.DateKey(end))
	body := "Plano Plus anual (Pix): expiração confirmada.\n\n" +
		fmt.Sprintf("Data de expiração: %s\n\n", end.Format(dateLayout)) +
		"Seu acesso voltou para o Plano Free. Renove quando quiser:\n" +
		s.billingLink("plus_annual_pix") + "\n"

	return s.notify(ctx, tenantID, key, EmailKindAnnualExpired,
		"Seu Plus anual expirou — Elemento Juris", body, nil)
}
