package services

import (
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/exportgate"
	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/lock"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/storage"
)

// Services holds all service instances
type Services struct {
	Auth      *AuthService
	User      *UserService
	Contract  *ContractService
	WorkEvent *WorkEventService
	Invoice   *InvoiceService
	Exception *ExceptionService
	Approval  *ApprovalService
	Push      *PushService
	Audit     *AuditService
	Email     *EmailService
	Export    *ExportService
	Job       *JobService
}

// NewServices creates all service instances. Every service shares one
// keyed lock so invoice and lineage keys are serialized process-wide.
func NewServices(repos *repository.Repositories, worker *jobs.Worker, store *storage.LocalStorage, cfg *config.Config, p *policy.Policy, gate exportgate.Gate, signer ledger.Signer) *Services {
	locks := lock.NewKeyed()
	emailSvc := NewEmailService(cfg)
	exportSvc := NewExportService()
	auditSvc := NewAuditService(repos.Audit, repos.Invoice, locks, signer, store, exportSvc)
	invoiceSvc := NewInvoiceService(repos, p, locks, auditSvc, emailSvc, worker)
	pushOpts := PushOptionsFromConfig(cfg)

	return &Services{
		Auth:      NewAuthService(repos.User, cfg),
		User:      NewUserService(repos.User),
		Contract:  NewContractService(repos, locks, auditSvc),
		WorkEvent: NewWorkEventService(repos, auditSvc, store),
		Invoice:   invoiceSvc,
		Exception: NewExceptionService(repos, locks, auditSvc, invoiceSvc, emailSvc, worker),
		Approval:  NewApprovalService(repos, locks, auditSvc),
		Push:      NewPushService(repos, gate, locks, auditSvc, emailSvc, worker, p, pushOpts),
		Audit:     auditSvc,
		Email:     emailSvc,
		Export:    exportSvc,
		Job:       NewJobService(worker, repos.Invoice, pushOpts.MaxAttempts),
	}
}
