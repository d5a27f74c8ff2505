package interceptor

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/workflow"
)

// SentryInterceptor reports failed workflows and activities to Sentry. It is
// a no-op until sentry.Init has installed a client on the current hub.
type SentryInterceptor struct {
	interceptor.InterceptorBase
	hub *sentry.Hub
}

func NewSentryInterceptor(hub *sentry.Hub) *SentryInterceptor {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryInterceptor{hub: hub}
}

func (s *SentryInterceptor) enabled() bool {
	return s.hub.Client() != nil
}

func (s *SentryInterceptor) InterceptWorkflow(ctx workflow.Context, next interceptor.WorkflowInboundInterceptor) interceptor.WorkflowInboundInterceptor {
	return &workflowInboundInterceptor{
		WorkflowInboundInterceptorBase: interceptor.WorkflowInboundInterceptorBase{Next: next},
		root:                           s,
	}
}

func (s *SentryInterceptor) InterceptActivity(ctx context.Context, next interceptor.ActivityInboundInterceptor) interceptor.ActivityInboundInterceptor {
	return &activityInboundInterceptor{
		ActivityInboundInterceptorBase: interceptor.ActivityInboundInterceptorBase{Next: next},
		root:                           s,
	}
}

type workflowInboundInterceptor struct {
	interceptor.WorkflowInboundInterceptorBase
	root *SentryInterceptor
}

func (w *workflowInboundInterceptor) ExecuteWorkflow(ctx workflow.Context, in *interceptor.ExecuteWorkflowInput) (interface{}, error) {
	info := workflow.GetInfo(ctx)
	result, err := w.Next.ExecuteWorkflow(ctx, in)

	// replayed executions must not report twice
	if err != nil && w.root.enabled() && !workflow.IsReplaying(ctx) {
		workflow.GetLogger(ctx).Error("Workflow execution failed",
			"workflow_type", info.WorkflowType.Name,
			"workflow_id", info.WorkflowExecution.ID,
			"error", err)
		w.root.hub.CaptureException(fmt.Errorf("temporal workflow failed: %s (ID: %s) - %w",
			info.WorkflowType.Name, info.WorkflowExecution.ID, err))
	}
	return result, err
}

type activityInboundInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	root *SentryInterceptor
}

func (a *activityInboundInterceptor) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (interface{}, error) {
	if !a.root.enabled() {
		return a.Next.ExecuteActivity(ctx, in)
	}

	info := activity.GetInfo(ctx)
	ctx = sentry.SetHubOnContext(ctx, a.root.hub.Clone())
	span := sentry.StartSpan(ctx, fmt.Sprintf("temporal.activity.%s", info.ActivityType.Name))
	span.SetData("workflow_id", info.WorkflowExecution.ID)
	span.SetData("attempt", info.Attempt)

	result, err := a.Next.ExecuteActivity(span.Context(), in)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("error", err.Error())
		a.root.hub.CaptureException(fmt.Errorf("temporal activity failed: %s - %w", info.ActivityType.Name, err))
	}
	span.Finish()

	return result, err
}
