package sqlinline

const QInsertGenerationRequest = `--sql 9c4d2e7f-1a8b-4c3d-9e6f-2b7a5d8c1f4e
insert into generation_requests(
  id, user_id, kind, model_id, phase, prompt, settings, charge_token, created_at, updated_at
) values (
  gen_random_uuid(), $1::uuid, $2::text, $3::text, 'SUBMITTED', $4::text, $5::jsonb, $6::uuid, now(), now()
) returning id;
`

const QSetGenerationPolling = `--sql 5f1e8d2a-7c4b-4e9f-a3d6-8b2c5e1f7a9d
update generation_requests
set phase = 'POLLING', operation_ref = $2::text, updated_at = now()
where id = $1::uuid and phase = 'SUBMITTED';
`

const QFinishGeneration = `--sql 1d7c4a9e-3b8f-4d2c-9a5e-6f1b8e4d2c7a
update generation_requests
set phase = $2::text, error = nullif($3::text, ''), updated_at = now()
where id = $1::uuid
  and phase in ('SUBMITTED', 'POLLING');
`

const QSelectGenerationForUser = `--sql 8a3f6b1d-5e9c-4a7b-8d2f-3c6e9a1b4d7f
select id, user_id, kind, model_id, phase, prompt, settings, coalesce(operation_ref, ''), coalesce(error, ''), created_at, updated_at
from generation_requests
where id = $1::uuid and user_id = $2::uuid
limit 1;
`

const QCancelGeneration = `--sql 6b9e2d5f-8a1c-4f3e-b7d4-9c2a6e8f1b5d
update generation_requests
set phase = 'CANCELED', updated_at = now()
where id = $1::uuid
  and user_id = $2::uuid
  and phase in ('SUBMITTED', 'POLLING')
returning id;
`

const QClaimOrphanedGeneration = `--sql 4e7a9c2b-6d1f-4b8e-a5c3-7f9d2b4e6a8c
with stale as (
  select id
  from generation_requests
  where phase = 'POLLING'
    and operation_ref is not null
    and updated_at < now() - ($1::int * interval '1 second')
  order by updated_at asc
  for update skip locked
  limit 1
),
claimed as (
  update generation_requests g
  set updated_at = now()
  where g.id in (select id from stale)
  returning g.id, g.user_id, g.kind, g.model_id, g.prompt, g.settings, g.operation_ref, g.charge_token
)
select * from claimed;
`
