package email

const fromName = "SalesOps"

const subjectSyncAbortedFmt = "[SalesOps] Sincronização de compras interrompida (%s)"
